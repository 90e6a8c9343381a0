package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier delivers a tasks/status notification to whichever transport the
// owning session is attached to (SSE stream or otherwise). Implemented by
// internal/session.Manager so this package never imports it directly.
type Notifier interface {
	NotifyTaskStatusChanged(sessionID string, params schema.TaskStatusChangedNotificationParams)
}

// Input lets a running task's work function pause for client-provided input
// (the Working <-> InputRequired transitions — this resolves the
// "elicitation response channel" flow MCP does not yet standardize).
type Input interface {
	// RequestInput marks the task InputRequired, notifies the session, and
	// blocks until ProvideInput delivers content or ctx is cancelled.
	RequestInput(ctx context.Context, prompt string) (json.RawMessage, error)
}

type running struct {
	cancel  context.CancelFunc
	inputCh chan json.RawMessage
}

// WorkFunc is the body of a long-running tool invocation. It receives a
// context cancelled on Runtime.Cancel and an Input handle for
// InputRequired round-trips, and returns the task's terminal result.
type WorkFunc func(ctx context.Context, in Input) (schema.TaskResult, error)

// Runtime owns the live goroutine, cancellation handle, and InputRequired
// bridge for every in-flight task, on top of the durable Storage record.
// Grounded on shared/requestManager.go's id-keyed callback map, generalized
// from "correlate one response" to "own one long-running goroutine."
type Runtime struct {
	mu       sync.Mutex
	storage  Storage
	notifier Notifier
	logger   *zap.Logger
	live     map[string]*running
}

func NewRuntime(storage Storage, notifier Notifier, logger *zap.Logger) *Runtime {
	return &Runtime{
		storage:  storage,
		notifier: notifier,
		logger:   logger,
		live:     make(map[string]*running),
	}
}

// Storage exposes the underlying persistence backend for read-only queries
// (tasks/list, tasks/get, tasks/result); mutations still go through Runtime's
// own methods so the live goroutine/cancellation bookkeeping stays correct.
func (r *Runtime) Storage() Storage { return r.storage }

// Spawn creates a task record in Working status and starts fn in a new
// goroutine. It returns immediately with the task id; fn's return value is
// persisted via StoreResult when it completes.
func (r *Runtime) Spawn(ctx context.Context, sessionID, toolName string, ttl, pollInterval time.Duration, fn WorkFunc) (string, error) {
	id := newTaskID()
	now := time.Now()
	rec := Record{
		ID:            id,
		SessionID:     sessionID,
		ToolName:      toolName,
		Status:        schema.TaskStatusWorking,
		CreatedAt:     now,
		LastUpdatedAt: now,
		TTL:           ttl,
		PollInterval:  pollInterval,
	}
	if err := r.storage.CreateTask(ctx, rec); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	rt := &running{cancel: cancel, inputCh: make(chan json.RawMessage, 1)}
	r.mu.Lock()
	r.live[id] = rt
	r.mu.Unlock()

	go r.run(taskCtx, id, sessionID, rt, fn)
	return id, nil
}

func (r *Runtime) run(ctx context.Context, id, sessionID string, rt *running, fn WorkFunc) {
	in := &taskInput{runtime: r, ctx: ctx, id: id, sessionID: sessionID, rt: rt}
	result, err := fn(ctx, in)

	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()

	status := schema.TaskStatusCompleted
	statusMessage := ""
	if err != nil && ctx.Err() == nil {
		status = schema.TaskStatusFailed
		statusMessage = err.Error()
		// NewJSONRPCError keeps a *shared.JSONRPCError's own code and wraps
		// anything else as an internal error, so tasks/result later surfaces
		// the same code the tool body raised.
		rpcErr := shared.NewJSONRPCError(err)
		var data json.RawMessage
		if rpcErr.Data != nil {
			if raw, marshalErr := json.Marshal(rpcErr.Data); marshalErr == nil {
				data = raw
			}
		}
		result = schema.TaskResult{Error: &schema.TaskResultError{Code: rpcErr.Code, Message: rpcErr.Message, Data: data}}
	} else if ctx.Err() != nil {
		status = schema.TaskStatusCancelled
	}

	if storeErr := r.storage.StoreResult(context.Background(), id, status, result); storeErr != nil {
		r.logger.Error("failed to store task result", zap.String("taskID", id), zap.Error(storeErr))
	}
	r.notify(sessionID, id, status, statusMessage)
}

func (r *Runtime) notify(sessionID, taskID string, status schema.TaskStatus, msg string) {
	if r.notifier == nil {
		return
	}
	r.notifier.NotifyTaskStatusChanged(sessionID, schema.TaskStatusChangedNotificationParams{
		ID: taskID, Status: status, StatusMessage: msg,
	})
}

// Cancel requests cancellation of a running task, or marks an already
// terminal task's storage entry untouched (terminal states
// absorb). A task with no live goroutine (e.g. recovered after a restart)
// is marked Cancelled directly in storage.
func (r *Runtime) Cancel(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	rt, ok := r.live[id]
	r.mu.Unlock()

	if ok {
		rt.cancel()
		return nil // run() observes ctx.Err() and stores TaskStatusCancelled
	}

	rec, err := r.storage.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}
	if err := r.storage.StoreResult(ctx, id, schema.TaskStatusCancelled, schema.TaskResult{
		Error: &schema.TaskResultError{Code: -32001, Message: reason},
	}); err != nil {
		return err
	}
	r.notify(rec.SessionID, id, schema.TaskStatusCancelled, reason)
	return nil
}

// ProvideInput answers a task paused in InputRequired via tasks/provideInput.
func (r *Runtime) ProvideInput(ctx context.Context, id string, content json.RawMessage) error {
	r.mu.Lock()
	rt, ok := r.live[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case rt.inputCh <- content:
		return r.storage.UpdateStatus(ctx, id, schema.TaskStatusWorking, "")
	default:
		return fmt.Errorf("task %s is not awaiting input", id)
	}
}

type taskInput struct {
	runtime   *Runtime
	ctx       context.Context
	id        string
	sessionID string
	rt        *running
}

func (t *taskInput) RequestInput(ctx context.Context, prompt string) (json.RawMessage, error) {
	if err := t.runtime.storage.UpdateStatus(ctx, t.id, schema.TaskStatusInputRequired, prompt); err != nil {
		return nil, err
	}
	t.runtime.notify(t.sessionID, t.id, schema.TaskStatusInputRequired, prompt)

	select {
	case content := <-t.rt.inputCh:
		return content, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RecoverStuckOnStartup finds every non-terminal task whose last update
// precedes cutoff (no live goroutine could possibly still be running it,
// since this process just started) and fails it. Run once at boot before
// serving traffic, so no zombie task survives a restart.
func (r *Runtime) RecoverStuckOnStartup(ctx context.Context, cutoff time.Time) error {
	stuck, err := r.storage.RecoverStuckTasks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("recover stuck tasks: %w", err)
	}
	for _, rec := range stuck {
		result := schema.TaskResult{Error: &schema.TaskResultError{Code: -32002, Message: "task abandoned by server restart"}}
		if err := r.storage.StoreResult(ctx, rec.ID, schema.TaskStatusFailed, result); err != nil {
			r.logger.Error("failed to fail stuck task", zap.String("taskID", rec.ID), zap.Error(err))
			continue
		}
		r.notify(rec.SessionID, rec.ID, schema.TaskStatusFailed, "task abandoned by server restart")
	}
	if len(stuck) > 0 {
		r.logger.Info("recovered stuck tasks on startup", zap.Int("count", len(stuck)))
	}
	return nil
}

// SweepExpired deletes every non-terminal task whose TTL has elapsed;
// terminal tasks are kept. Intended to run on
// a ticker alongside the session manager's own idle sweep.
func (r *Runtime) SweepExpired(ctx context.Context) {
	expired, err := r.storage.ExpireTasks(ctx, time.Now())
	if err != nil {
		r.logger.Error("failed to sweep expired tasks", zap.Error(err))
		return
	}
	if len(expired) > 0 {
		r.logger.Info("expired tasks", zap.Int("count", len(expired)))
	}
}

func newTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
