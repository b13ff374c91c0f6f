package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/agentd/internal/models"
)

// FileLogger logs daemon events to files in the log directory. It creates a
// timestamped per-run log file, per-task detail logs under tasks/, and
// maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and supports log level filtering.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger that writes to logDir. It creates the
// directory if needed, opens a timestamped run log file, and creates or
// updates the latest.log symlink.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	// Timestamped filename: run-YYYYMMDD-HHMMSS.log
	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== Agentd Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// shouldLog checks if a message at the given level should be logged.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...any) {
	fl.logf("DEBUG", format, args...)
}

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...any) {
	fl.logf("INFO", format, args...)
}

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...any) {
	fl.logf("WARN", format, args...)
}

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...any) {
	fl.logf("ERROR", format, args...)
}

func (fl *FileLogger) logf(level string, format string, args ...any) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	message := fmt.Sprintf(format, args...)
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message))
}

// LogTaskRecord writes the full record of a finished task to a dedicated
// file: tasks/task-<id>.log. Earlier records for the same task are replaced.
func (fl *FileLogger) LogTaskRecord(task *models.Task) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	taskLogPath := filepath.Join(fl.tasksDir, fmt.Sprintf("task-%s.log", task.ID))

	file, err := os.OpenFile(taskLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create task log file: %w", err)
	}
	defer file.Close()

	content := fmt.Sprintf("=== Task %s ===\n", task.ID)
	content += fmt.Sprintf("State: %s\n", task.State)
	content += fmt.Sprintf("Created: %s\n", task.CreatedAt.Format(time.RFC3339))
	if task.StartedAt != nil {
		content += fmt.Sprintf("Started: %s\n", task.StartedAt.Format(time.RFC3339))
	}
	if task.FinishedAt != nil {
		content += fmt.Sprintf("Finished: %s\n", task.FinishedAt.Format(time.RFC3339))
		if task.StartedAt != nil {
			content += fmt.Sprintf("Duration: %.1fs\n", task.FinishedAt.Sub(*task.StartedAt).Seconds())
		}
	}
	content += "\n"

	if task.Prompt != "" {
		content += fmt.Sprintf("Prompt:\n%s\n\n", task.Prompt)
	}

	if task.Result != nil {
		content += fmt.Sprintf("Success: %t\n", task.Result.Success)
		if task.Result.Response != "" {
			content += fmt.Sprintf("Response:\n%s\n\n", task.Result.Response)
		}
		if len(task.Result.ModifiedFiles) > 0 {
			content += "Modified files:\n"
			for name := range task.Result.ModifiedFiles {
				content += fmt.Sprintf("  %s\n", name)
			}
			content += "\n"
		}
		if task.Result.Error != "" {
			content += fmt.Sprintf("Error:\n%s\n\n", task.Result.Error)
		}
		if task.Result.Stderr != "" {
			content += fmt.Sprintf("Stderr:\n%s\n\n", task.Result.Stderr)
		}
	}

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write task log: %w", err)
	}
	return nil
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time tailing
		fl.runLog.Sync()
	}
}
