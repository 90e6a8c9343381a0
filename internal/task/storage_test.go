package task

import (
	"context"
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id, sessionID string, createdAt time.Time) Record {
	return Record{
		ID:            id,
		SessionID:     sessionID,
		ToolName:      "slow_process",
		Status:        schema.TaskStatusWorking,
		CreatedAt:     createdAt,
		LastUpdatedAt: createdAt,
	}
}

func TestMemoryStorage_CreateThenGetRoundTrip(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	rec := newRecord("t1", "sess-1", time.Now())

	require.NoError(t, s.CreateTask(ctx, rec))
	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusWorking, got.Status)
}

func TestMemoryStorage_GetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStorage()
	_, err := s.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_UpdateStatusWorkingToWorkingIsIdempotent(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", "sess-1", time.Now())))

	require.NoError(t, s.UpdateStatus(ctx, "t1", schema.TaskStatusWorking, "still going"))
	require.NoError(t, s.UpdateStatus(ctx, "t1", schema.TaskStatusWorking, "still going"))

	rec, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusWorking, rec.Status)
}

func TestMemoryStorage_TerminalStatusRejectsFurtherTransitions(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", "sess-1", time.Now())))
	require.NoError(t, s.StoreResult(ctx, "t1", schema.TaskStatusCompleted, schema.TaskResult{Value: []byte(`5`)}))

	err := s.UpdateStatus(ctx, "t1", schema.TaskStatusWorking, "resurrecting")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStorage_StoreResultRequiresTerminalStatus(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", "sess-1", time.Now())))

	err := s.StoreResult(ctx, "t1", schema.TaskStatusWorking, schema.TaskResult{Value: []byte(`5`)})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStorage_ResultPresentIffTerminal(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", "sess-1", time.Now())))

	rec, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, rec.Status.IsTerminal())
	assert.Nil(t, rec.Result)

	require.NoError(t, s.StoreResult(ctx, "t1", schema.TaskStatusFailed, schema.TaskResult{
		Error: &schema.TaskResultError{Code: -32603, Message: "boom"},
	}))

	rec, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, rec.Status.IsTerminal())
	require.NotNil(t, rec.Result)
	assert.Equal(t, "boom", rec.Result.Error.Message)
	assert.Equal(t, -32603, rec.Result.Error.Code)
}

func TestMemoryStorage_ListTasksForSessionOrderedByCreatedAtThenID(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.CreateTask(ctx, newRecord("a", "sess-1", base)))
	require.NoError(t, s.CreateTask(ctx, newRecord("b", "sess-1", base.Add(time.Second))))
	require.NoError(t, s.CreateTask(ctx, newRecord("c", "sess-2", base.Add(2*time.Second))))

	recs, next, err := s.ListTasksForSession(ctx, "sess-1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID) // newest first
	assert.Equal(t, "a", recs[1].ID)
}

func TestMemoryStorage_ListTasksPaginationUnionHasNoDuplicates(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	base := time.Now()
	total := 57
	for i := 0; i < total; i++ {
		id := string(rune('a' + i%26))
		if i >= 26 {
			id += string(rune('a' + i/26))
		}
		require.NoError(t, s.CreateTask(ctx, newRecord(id, "sess-1", base.Add(time.Duration(i)*time.Millisecond))))
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		recs, next, err := s.ListTasks(ctx, cursor, 10)
		require.NoError(t, err)
		for _, r := range recs {
			require.False(t, seen[r.ID], "duplicate id %s", r.ID)
			seen[r.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, total)
}

func TestMemoryStorage_ExpireTasksOnlyDropsNonTerminalPastTTL(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	expiring := newRecord("expiring", "sess-1", now.Add(-time.Hour))
	expiring.TTL = time.Minute
	require.NoError(t, s.CreateTask(ctx, expiring))

	fresh := newRecord("fresh", "sess-1", now)
	fresh.TTL = time.Hour
	require.NoError(t, s.CreateTask(ctx, fresh))

	terminal := newRecord("terminal", "sess-1", now.Add(-time.Hour))
	terminal.Status = schema.TaskStatusCompleted
	terminal.TTL = time.Minute
	require.NoError(t, s.CreateTask(ctx, terminal))

	expired, err := s.ExpireTasks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"expiring"}, expired)

	_, err = s.GetTask(ctx, "fresh")
	assert.NoError(t, err)
	_, err = s.GetTask(ctx, "terminal")
	assert.NoError(t, err)
}

func TestMemoryStorage_RecoverStuckTasksFindsOldNonTerminal(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	stuck := newRecord("stuck", "sess-1", now.Add(-time.Hour))
	require.NoError(t, s.CreateTask(ctx, stuck))

	recent := newRecord("recent", "sess-1", now)
	require.NoError(t, s.CreateTask(ctx, recent))

	done := newRecord("done", "sess-1", now.Add(-time.Hour))
	done.Status = schema.TaskStatusCompleted
	require.NoError(t, s.CreateTask(ctx, done))

	stuckTasks, err := s.RecoverStuckTasks(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stuckTasks, 1)
	assert.Equal(t, "stuck", stuckTasks[0].ID)
}

func TestMemoryStorage_DeleteTask(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", "sess-1", time.Now())))
	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err := s.GetTask(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_ListTasksUnknownCursorReturnsNotFound(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, newRecord("t1", "sess-1", time.Now())))
	_, _, err := s.ListTasks(ctx, "nonexistent", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}
