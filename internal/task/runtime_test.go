package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	mu    chan struct{}
	calls []schema.TaskStatusChangedNotificationParams
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{mu: make(chan struct{}, 1)}
}

func (f *fakeNotifier) NotifyTaskStatusChanged(sessionID string, params schema.TaskStatusChangedNotificationParams) {
	f.calls = append(f.calls, params)
}

func waitForStatus(t *testing.T, storage Storage, id string, want schema.TaskStatus) Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := storage.GetTask(context.Background(), id)
		require.NoError(t, err)
		if rec.Status == want {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
	return Record{}
}

func TestRuntime_SpawnCompletesSuccessfully(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())

	id, err := rt.Spawn(context.Background(), "sess-1", "adder", 0, 0, func(ctx context.Context, in Input) (schema.TaskResult, error) {
		return schema.TaskResult{Value: json.RawMessage(`5`)}, nil
	})
	require.NoError(t, err)

	rec := waitForStatus(t, storage, id, schema.TaskStatusCompleted)
	require.NotNil(t, rec.Result)
	assert.Equal(t, json.RawMessage(`5`), rec.Result.Value)
	assert.Nil(t, rec.Result.Error)
}

func TestRuntime_SpawnFailurePreservesErrorMessage(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())

	id, err := rt.Spawn(context.Background(), "sess-1", "exploder", 0, 0, func(ctx context.Context, in Input) (schema.TaskResult, error) {
		return schema.TaskResult{}, errors.New("boom")
	})
	require.NoError(t, err)

	rec := waitForStatus(t, storage, id, schema.TaskStatusFailed)
	require.NotNil(t, rec.Result)
	require.NotNil(t, rec.Result.Error)
	assert.Equal(t, "boom", rec.Result.Error.Message)
	assert.Equal(t, shared.JSONRPCErrorInternal, rec.Result.Error.Code)
	assert.Equal(t, "boom", rec.StatusMessage)
}

func TestRuntime_SpawnFailureKeepsJSONRPCErrorCode(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())

	id, err := rt.Spawn(context.Background(), "sess-1", "picky", 0, 0, func(ctx context.Context, in Input) (schema.TaskResult, error) {
		return schema.TaskResult{}, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "bad input"}
	})
	require.NoError(t, err)

	rec := waitForStatus(t, storage, id, schema.TaskStatusFailed)
	require.NotNil(t, rec.Result)
	require.NotNil(t, rec.Result.Error)
	assert.Equal(t, shared.JSONRPCErrorInvalidParams, rec.Result.Error.Code)
	assert.Equal(t, "bad input", rec.Result.Error.Message)
	assert.Equal(t, "bad input", rec.StatusMessage)
}

func TestRuntime_CancelLiveTaskTransitionsToCancelled(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())
	started := make(chan struct{})

	id, err := rt.Spawn(context.Background(), "sess-1", "looper", 0, 0, func(ctx context.Context, in Input) (schema.TaskResult, error) {
		close(started)
		<-ctx.Done()
		return schema.TaskResult{}, nil
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, rt.Cancel(context.Background(), id, "user requested"))
	waitForStatus(t, storage, id, schema.TaskStatusCancelled)
}

func TestRuntime_CancelAlreadyTerminalTaskIsNoop(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())

	id, err := rt.Spawn(context.Background(), "sess-1", "fast", 0, 0, func(ctx context.Context, in Input) (schema.TaskResult, error) {
		return schema.TaskResult{Value: json.RawMessage(`1`)}, nil
	})
	require.NoError(t, err)
	waitForStatus(t, storage, id, schema.TaskStatusCompleted)

	require.NoError(t, rt.Cancel(context.Background(), id, "too late"))
	rec, err := storage.GetTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCompleted, rec.Status)
}

func TestRuntime_RequestInputThenProvideInputResumesWork(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())
	awaitingInput := make(chan struct{})

	id, err := rt.Spawn(context.Background(), "sess-1", "asks_user", 0, 0, func(ctx context.Context, in Input) (schema.TaskResult, error) {
		go close(awaitingInput)
		content, err := in.RequestInput(ctx, "what is your name?")
		if err != nil {
			return schema.TaskResult{}, err
		}
		return schema.TaskResult{Value: content}, nil
	})
	require.NoError(t, err)

	<-awaitingInput
	waitForStatus(t, storage, id, schema.TaskStatusInputRequired)

	require.NoError(t, rt.ProvideInput(context.Background(), id, json.RawMessage(`"Ada"`)))

	rec := waitForStatus(t, storage, id, schema.TaskStatusCompleted)
	require.NotNil(t, rec.Result)
	assert.Equal(t, json.RawMessage(`"Ada"`), rec.Result.Value)
}

func TestRuntime_ProvideInputOnUnknownTaskFails(t *testing.T) {
	storage := NewMemoryStorage()
	rt := NewRuntime(storage, newFakeNotifier(), zap.NewNop())

	err := rt.ProvideInput(context.Background(), "never-spawned", json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuntime_RecoverStuckOnStartupFailsOldNonTerminalTasks(t *testing.T) {
	storage := NewMemoryStorage()
	notifier := newFakeNotifier()
	rt := NewRuntime(storage, notifier, zap.NewNop())

	now := time.Now()
	stuck := newRecord("stuck-1", "sess-1", now.Add(-time.Hour))
	require.NoError(t, storage.CreateTask(context.Background(), stuck))

	require.NoError(t, rt.RecoverStuckOnStartup(context.Background(), now.Add(-time.Minute)))

	rec, err := storage.GetTask(context.Background(), "stuck-1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusFailed, rec.Status)
	require.NotNil(t, rec.Result)
	require.NotNil(t, rec.Result.Error)
	assert.Contains(t, rec.Result.Error.Message, "restart")
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, schema.TaskStatusFailed, notifier.calls[0].Status)
}
