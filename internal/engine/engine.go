// Package engine implements the task execution engine: it supervises the
// lifecycle of every task from submission through the agent subprocess to a
// terminal state, with bounded concurrency and safe cancellation.
//
// All state transitions are driven through the store's compare-and-set
// primitive, so a race between natural completion and external cancellation
// is resolved by whichever transition lands first; the loser observes a
// false return and cleans up without touching task state.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/agentd/internal/config"
	"github.com/harrison/agentd/internal/gemini"
	"github.com/harrison/agentd/internal/models"
	"github.com/harrison/agentd/internal/store"
	"github.com/harrison/agentd/internal/workspace"
)

// stderrExcerptLen bounds the stderr tail surfaced in failed results.
const stderrExcerptLen = 500

// defaultPollInterval is the polling cadence for Wait.
const defaultPollInterval = 100 * time.Millisecond

// Logger is the minimal logging surface the engine needs. A nil logger
// disables logging.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// MCPLookup resolves the set of registered MCP server names. The engine
// consults it when building subprocess arguments; registration bookkeeping
// lives elsewhere.
type MCPLookup interface {
	Names() ([]string, error)
}

// Engine orchestrates task execution. Safe for concurrent use by multiple
// callers; per-task ordering is provided by the store's CAS primitive, not
// by engine-level locking.
type Engine struct {
	defaults config.GeminiConfig
	workDir  string

	store  store.Store
	runner gemini.Runner
	mcp    MCPLookup
	log    Logger

	sched *Scheduler

	mu   sync.Mutex
	live map[string]*liveTask

	onFinish func(*models.Task)

	wg sync.WaitGroup
}

// liveTask tracks the cancellation points of a task that is queued or running.
type liveTask struct {
	cancelQueue context.CancelFunc
	handle      gemini.Handle
}

// New creates an Engine. mcp and log may be nil.
func New(cfg *config.Config, st store.Store, runner gemini.Runner, mcp MCPLookup, log Logger) *Engine {
	return &Engine{
		defaults: cfg.Gemini,
		workDir:  cfg.WorkspaceDir,
		store:    st,
		runner:   runner,
		mcp:      mcp,
		log:      log,
		sched:    NewScheduler(cfg.MaxConcurrency),
		live:     make(map[string]*liveTask),
	}
}

// SetFinishHook registers a callback invoked with the terminal record after
// each task finishes (any terminal state). Must be set before the first
// Submit or Run. The callback runs on the finishing goroutine; keep it cheap.
func (e *Engine) SetFinishHook(fn func(*models.Task)) {
	e.onFinish = fn
}

// notifyFinished delivers the terminal record to the finish hook.
func (e *Engine) notifyFinished(id string) {
	if e.onFinish == nil {
		return
	}
	task, err := e.store.Get(context.Background(), id)
	if err != nil {
		e.warnf("task %s: fetch for finish hook: %v", id, err)
		return
	}
	e.onFinish(task)
}

// Scheduler exposes the concurrency limiter, mainly for observability.
func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

// Submit registers a new task and queues it for execution, returning the
// task id immediately. Store errors are propagated to the caller.
func (e *Engine) Submit(ctx context.Context, prompt string, taskCfg models.TaskConfig) (string, error) {
	task, err := e.register(ctx, prompt, taskCfg)
	if err != nil {
		return "", err
	}

	queueCtx, cancelQueue := context.WithCancel(context.Background())
	e.setLive(task.ID, &liveTask{cancelQueue: cancelQueue})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.lifecycle(queueCtx, task)
	}()

	return task.ID, nil
}

// Run is the synchronous facade: it drives the same state machine as Submit
// but inline, returning the terminal task record. The caller's context
// cancels both the queue wait and the subprocess.
func (e *Engine) Run(ctx context.Context, prompt string, taskCfg models.TaskConfig) (*models.Task, error) {
	task, err := e.register(ctx, prompt, taskCfg)
	if err != nil {
		return nil, err
	}

	queueCtx, cancelQueue := context.WithCancel(ctx)
	defer cancelQueue()
	e.setLive(task.ID, &liveTask{cancelQueue: cancelQueue})

	e.lifecycle(queueCtx, task)
	return e.store.Get(ctx, task.ID)
}

// register allocates an id and creates the pending record.
func (e *Engine) register(ctx context.Context, prompt string, taskCfg models.TaskConfig) (*models.Task, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Config:    taskCfg,
		State:     models.StatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.Create(ctx, task); err != nil {
		return nil, err
	}
	e.infof("task %s submitted", task.ID)
	return task, nil
}

// Get returns the task record.
func (e *Engine) Get(ctx context.Context, id string) (*models.Task, error) {
	return e.store.Get(ctx, id)
}

// List returns all task records in creation order.
func (e *Engine) List(ctx context.Context) ([]*models.Task, error) {
	return e.store.List(ctx)
}

// Cancel requests cancellation of a task. Queued tasks are removed from the
// queue without consuming a slot; running tasks have their subprocess
// terminated. Cancelling a task already in a terminal state is a no-op, not
// an error. The updated record is returned.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Task, error) {
	task, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return task, nil
	}

	// Stop the queue wait and any live subprocess first so the record's
	// terminal state never precedes the process actually dying.
	e.mu.Lock()
	lt := e.live[id]
	var handle gemini.Handle
	if lt != nil {
		lt.cancelQueue()
		handle = lt.handle
	}
	e.mu.Unlock()

	if handle != nil {
		if err := handle.Cancel(); err != nil {
			e.warnf("task %s: cancel subprocess: %v", id, err)
		}
	}

	now := time.Now().UTC()
	patch := models.Patch{
		FinishedAt: &now,
		Result:     models.ErrorResult((&CancelledError{TaskID: id}).Error()),
	}
	for _, from := range []models.TaskState{models.StatePending, models.StateRunning} {
		ok, err := e.store.CompareAndSet(ctx, id, from, models.StateCancelled, patch)
		if err != nil {
			return nil, err
		}
		if ok {
			e.infof("task %s cancelled", id)
			e.notifyFinished(id)
			break
		}
	}

	return e.store.Get(ctx, id)
}

// Wait polls the store until the task reaches a terminal state or ctx is
// done. Polling get is idempotent and side-effect free, so repeated calls
// are safe.
func (e *Engine) Wait(ctx context.Context, id string) (*models.Task, error) {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		task, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.State.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown cancels every queued and running task and waits for in-flight
// lifecycles to finish, or until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if _, err := e.Cancel(ctx, id); err != nil {
			e.warnf("shutdown: cancel task %s: %v", id, err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lifecycle carries one task from queue admission to a terminal state.
func (e *Engine) lifecycle(queueCtx context.Context, task *models.Task) {
	defer e.clearLive(task.ID)

	if err := e.sched.Acquire(queueCtx); err != nil {
		// Cancelled while queued: never consumed a slot. The cancel actor
		// usually wins the CAS; this one is for abandoned sync Run contexts.
		now := time.Now().UTC()
		ok, _ := e.store.CompareAndSet(context.Background(), task.ID, models.StatePending, models.StateCancelled, models.Patch{
			FinishedAt: &now,
			Result:     models.ErrorResult((&CancelledError{TaskID: task.ID}).Error()),
		})
		if ok {
			e.notifyFinished(task.ID)
		}
		return
	}
	defer e.sched.Release()

	started := time.Now().UTC()
	ok, err := e.store.CompareAndSet(context.Background(), task.ID, models.StatePending, models.StateRunning, models.Patch{StartedAt: &started})
	if err != nil {
		e.errorf("task %s: store transition to running: %v", task.ID, err)
		return
	}
	if !ok {
		// Another actor (a cancellation) already moved the task. Abort
		// without spawning a subprocess.
		e.debugf("task %s: pending->running lost, skipping run", task.ID)
		return
	}

	e.runTask(queueCtx, task)
}

// runTask owns the workspace and subprocess for one running task. The
// workspace directory is removed on every exit path.
func (e *Engine) runTask(queueCtx context.Context, task *models.Task) {
	id := task.ID
	finishFailed := func(msg string) {
		e.finish(id, models.StateFailed, models.ErrorResult(msg))
	}

	wsRoot, err := os.MkdirTemp(e.workDir, "agentd-task-")
	if err != nil {
		finishFailed(fmt.Sprintf("failed to create workspace: %v", err))
		return
	}
	defer os.RemoveAll(wsRoot)

	if _, err := workspace.Materialize(wsRoot, task.Config.Files); err != nil {
		finishFailed(fmt.Sprintf("failed to materialize files: %v", err))
		return
	}

	snap, err := workspace.Take(wsRoot)
	if err != nil {
		finishFailed(fmt.Sprintf("failed to snapshot workspace: %v", err))
		return
	}

	// Activity watching is observational only; a watch failure never fails
	// the task.
	if watcher, werr := workspace.Watch(wsRoot); werr == nil {
		defer func() {
			if touched := watcher.Touched(); len(touched) > 0 {
				e.debugf("task %s: agent touched %d file(s)", id, len(touched))
			}
			watcher.Close()
		}()
	}

	opts := e.buildOptions(task.Config, wsRoot)

	// Derived from the queue context so a cancel that lands before the
	// handle is registered still takes the subprocess down.
	runCtx, cancelRun := context.WithCancel(queueCtx)
	defer cancelRun()

	handle, err := e.runner.Start(runCtx, task.Prompt, opts)
	if err != nil {
		// Launch failure is fatal for this task only.
		e.errorf("task %s: %v", id, err)
		finishFailed(err.Error())
		return
	}
	e.setHandle(id, handle)

	timeout := task.Config.Timeout
	if timeout <= 0 {
		timeout = e.defaults.Timeout
	}

	out := handle.Wait(timeout)

	switch out.Kind {
	case gemini.OutcomeTimedOut:
		terr := &TimeoutError{TaskID: id, Timeout: timeout}
		e.warnf("%v", terr)
		result := models.ErrorResult(terr.Error())
		result.Stdout = out.Stdout
		result.Stderr = out.Stderr
		e.finish(id, models.StateFailed, result)

	case gemini.OutcomeKilled:
		// External cancellation. The cancel actor usually wins the CAS to
		// cancelled first; this transition is the fallback and is dropped
		// harmlessly when it loses.
		now := time.Now().UTC()
		ok, _ := e.store.CompareAndSet(context.Background(), id, models.StateRunning, models.StateCancelled, models.Patch{
			FinishedAt: &now,
			Result:     models.ErrorResult((&CancelledError{TaskID: id}).Error()),
		})
		if ok {
			e.notifyFinished(id)
		}

	case gemini.OutcomeCompleted:
		modified, derr := workspace.Diff(wsRoot, snap)
		if derr != nil {
			finishFailed(fmt.Sprintf("failed to diff workspace: %v", derr))
			return
		}

		format := task.Config.OutputFormat
		if format == "" {
			format = e.defaults.OutputFormat
		}

		result := &models.Result{
			Success:       out.ExitCode == 0,
			Response:      gemini.ParseResponse(out.Stdout, format),
			ModifiedFiles: modified,
			Stdout:        out.Stdout,
			Stderr:        out.Stderr,
			ExitCode:      out.ExitCode,
		}
		if out.ExitCode == 0 {
			e.finish(id, models.StateSucceeded, result)
		} else {
			aerr := &AgentExecutionError{TaskID: id, ExitCode: out.ExitCode, Stderr: excerpt(out.Stderr, stderrExcerptLen)}
			result.Error = aerr.Error()
			e.finish(id, models.StateFailed, result)
		}
	}
}

// finish attempts the running->terminal transition. Losing the CAS means a
// concurrent cancellation already finished the task; nothing else to do.
func (e *Engine) finish(id string, next models.TaskState, result *models.Result) {
	now := time.Now().UTC()
	ok, err := e.store.CompareAndSet(context.Background(), id, models.StateRunning, next, models.Patch{
		FinishedAt: &now,
		Result:     result,
	})
	if err != nil {
		e.errorf("task %s: store transition to %s: %v", id, next, err)
		return
	}
	if !ok {
		e.debugf("task %s: running->%s lost to a concurrent transition", id, next)
		return
	}
	e.infof("task %s finished: %s", id, next)
	e.notifyFinished(id)
}

// buildOptions merges the task config over process defaults and filters the
// requested MCP servers down to registered names.
func (e *Engine) buildOptions(taskCfg models.TaskConfig, wsRoot string) gemini.Options {
	opts := gemini.Options{
		Workspace:          wsRoot,
		Model:              taskCfg.Model,
		ApprovalMode:       taskCfg.ApprovalMode,
		OutputFormat:       taskCfg.OutputFormat,
		Sandbox:            taskCfg.Sandbox,
		AllowedTools:       taskCfg.AllowedTools,
		Extensions:         taskCfg.Extensions,
		IncludeDirectories: taskCfg.IncludeDirectories,
	}
	if opts.Model == "" {
		opts.Model = e.defaults.Model
	}
	if opts.ApprovalMode == "" {
		opts.ApprovalMode = e.defaults.ApprovalMode
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = e.defaults.OutputFormat
	}

	opts.MCPServers = e.filterMCPServers(taskCfg.MCPServers)
	return opts
}

// filterMCPServers drops requested server names that are not registered.
func (e *Engine) filterMCPServers(requested []string) []string {
	if len(requested) == 0 || e.mcp == nil {
		return requested
	}
	names, err := e.mcp.Names()
	if err != nil {
		e.warnf("mcp registry lookup failed, passing requested servers through: %v", err)
		return requested
	}
	registered := make(map[string]struct{}, len(names))
	for _, n := range names {
		registered[n] = struct{}{}
	}

	var allowed []string
	for _, name := range requested {
		if _, ok := registered[name]; ok {
			allowed = append(allowed, name)
		} else {
			e.warnf("requested mcp server %q is not registered, skipping", name)
		}
	}
	return allowed
}

func (e *Engine) setLive(id string, lt *liveTask) {
	e.mu.Lock()
	e.live[id] = lt
	e.mu.Unlock()
}

func (e *Engine) setHandle(id string, h gemini.Handle) {
	e.mu.Lock()
	if lt, ok := e.live[id]; ok {
		lt.handle = h
	}
	e.mu.Unlock()
}

func (e *Engine) clearLive(id string) {
	e.mu.Lock()
	delete(e.live, id)
	e.mu.Unlock()
}

func (e *Engine) debugf(format string, args ...any) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

func (e *Engine) infof(format string, args ...any) {
	if e.log != nil {
		e.log.Infof(format, args...)
	}
}

func (e *Engine) warnf(format string, args ...any) {
	if e.log != nil {
		e.log.Warnf(format, args...)
	}
}

func (e *Engine) errorf(format string, args ...any) {
	if e.log != nil {
		e.log.Errorf(format, args...)
	}
}
