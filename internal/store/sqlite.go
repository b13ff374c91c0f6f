package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/agentd/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists task records in a SQLite database. It satisfies the
// same CAS contract as MemoryStore: transitions happen in a single UPDATE
// guarded by the expected state, so concurrent writers linearize on the
// database row.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// initializes the schema. ":memory:" is supported for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout must come first so the remaining pragmas wait on locks
	// instead of failing during concurrent initialization.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a SQL statement with exponential backoff on
// "database is locked" errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		if _, err := db.Exec(stmt); err == nil {
			return nil
		} else if !strings.Contains(err.Error(), "database is locked") {
			return err
		} else {
			lastErr = err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return lastErr
}

// Create registers a new task record.
func (s *SQLiteStore) Create(ctx context.Context, task *models.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return fmt.Errorf("marshal task config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, prompt, config_json, state, created_at, started_at, finished_at, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Prompt, string(configJSON), string(task.State),
		formatTime(&task.CreatedAt), formatTime(task.StartedAt), formatTime(task.FinishedAt),
		marshalResult(task.Result),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateTask
		}
		return &UnavailableError{Op: "create", Err: err}
	}
	return nil
}

// Get returns the task record.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, config_json, state, created_at, started_at, finished_at, result_json
		FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, &UnavailableError{Op: "get", Err: err}
	}
	return task, nil
}

// CompareAndSet transitions the task in a single guarded UPDATE. The
// state=? predicate is what linearizes racing writers: exactly one UPDATE
// observes the expected state.
func (s *SQLiteStore) CompareAndSet(ctx context.Context, id string, expected, next models.TaskState, patch models.Patch) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET state = ?,
		    started_at = COALESCE(?, started_at),
		    finished_at = COALESCE(?, finished_at),
		    result_json = COALESCE(?, result_json)
		WHERE id = ? AND state = ?`,
		string(next),
		nullableTime(patch.StartedAt), nullableTime(patch.FinishedAt), nullableResult(patch.Result),
		id, string(expected),
	)
	if err != nil {
		return false, &UnavailableError{Op: "compare_and_set", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, &UnavailableError{Op: "compare_and_set", Err: err}
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish "state mismatch" from "no such task".
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, ErrTaskNotFound
	}
	if err != nil {
		return false, &UnavailableError{Op: "compare_and_set", Err: err}
	}
	return false, nil
}

// Delete removes the task record. Unknown ids are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return &UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

// List returns all records in creation order.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, config_json, state, created_at, started_at, finished_at, result_json
		FROM tasks ORDER BY rowid ASC`)
	if err != nil {
		return nil, &UnavailableError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, &UnavailableError{Op: "list", Err: err}
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Op: "list", Err: err}
	}
	return out, nil
}

// Sweep deletes terminal tasks that finished before cutoff.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE state IN ('succeeded', 'failed', 'cancelled')
		  AND finished_at IS NOT NULL
		  AND finished_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, &UnavailableError{Op: "sweep", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &UnavailableError{Op: "sweep", Err: err}
	}
	return int(affected), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task       models.Task
		state      string
		configJSON string
		createdAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
		resultJSON sql.NullString
	)
	if err := row.Scan(&task.ID, &task.Prompt, &configJSON, &state, &createdAt, &startedAt, &finishedAt, &resultJSON); err != nil {
		return nil, err
	}

	task.State = models.TaskState(state)
	if err := json.Unmarshal([]byte(configJSON), &task.Config); err != nil {
		return nil, fmt.Errorf("unmarshal task config: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	task.CreatedAt = created

	if startedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		task.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		task.FinishedAt = &ts
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result models.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("unmarshal task result: %w", err)
		}
		task.Result = &result
	}
	return &task, nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	return formatTime(t)
}

func marshalResult(r *models.Result) any {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullableResult(r *models.Result) any {
	return marshalResult(r)
}
