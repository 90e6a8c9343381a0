// Package task implements the long-running tool invocation machinery of
// the tasks protocol family: the Task state machine (Working -> InputRequired ->
// Working -> a terminal state), the pluggable TaskStorage persistence
// contract, and TaskRuntime, which owns the live goroutine and cancellation
// handle for each in-flight task.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
)

var (
	// ErrNotFound is returned by a TaskStorage lookup that misses.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when update_task_status would move a
	// task out of a terminal state (terminal states absorb).
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Record is the durable representation of one task.
type Record struct {
	ID            string
	SessionID     string
	ToolName      string
	Status        schema.TaskStatus
	StatusMessage string
	Result        *schema.TaskResult // present iff Status.IsTerminal()
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	TTL           time.Duration // zero means no expiry
	PollInterval  time.Duration
}

func (r Record) Summary() schema.TaskSummary {
	s := schema.TaskSummary{
		ID:            r.ID,
		Status:        r.Status,
		StatusMessage: r.StatusMessage,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastUpdatedAt: r.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
		Result:        r.Result,
	}
	if r.TTL > 0 {
		ms := r.TTL.Milliseconds()
		s.TTLMillis = &ms
	}
	if r.PollInterval > 0 {
		ms := r.PollInterval.Milliseconds()
		s.PollIntervalMs = &ms
	}
	return s
}

// Storage is the pluggable task persistence contract.
// Implementations: MemoryStorage (default), SQLiteStorage, PostgresStorage,
// DynamoDBStorage, selected at runtime by config.IConfig.TaskStorageDriver.
type Storage interface {
	CreateTask(ctx context.Context, rec Record) error
	GetTask(ctx context.Context, id string) (Record, error)
	// UpdateStatus transitions a task's status and message. Returns
	// ErrInvalidTransition if the task is already terminal.
	UpdateStatus(ctx context.Context, id string, status schema.TaskStatus, statusMessage string) error
	// StoreResult transitions a task into a terminal state with its result,
	// in one atomic step (a result exists iff the task is terminal).
	StoreResult(ctx context.Context, id string, status schema.TaskStatus, result schema.TaskResult) error
	DeleteTask(ctx context.Context, id string) error

	// ListTasks returns every task, newest first, paginated by an opaque
	// cursor (the id of the last item seen).
	ListTasks(ctx context.Context, cursor string, limit int) (records []Record, nextCursor string, err error)
	// ListTasksForSession returns one session's tasks in the same
	// deterministic (creation-time, then id) order regardless of backend.
	ListTasksForSession(ctx context.Context, sessionID string, cursor string, limit int) (records []Record, nextCursor string, err error)

	// ExpireTasks deletes every non-terminal task whose TTL has elapsed
	// relative to now, returning their ids.
	ExpireTasks(ctx context.Context, now time.Time) ([]string, error)
	// RecoverStuckTasks returns every non-terminal task last updated before
	// cutoff: a process that restarted mid-task has no live goroutine for
	// these anymore, so the runtime must either resume or fail them.
	RecoverStuckTasks(ctx context.Context, cutoff time.Time) ([]Record, error)
}

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage is the default Storage: a mutex-guarded map, adequate for a
// single-process deployment or tests.
type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[string]Record
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tasks: make(map[string]Record)}
}

func (m *MemoryStorage) CreateTask(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[rec.ID] = rec
	return nil
}

func (m *MemoryStorage) GetTask(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStorage) UpdateStatus(_ context.Context, id string, status schema.TaskStatus, statusMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	rec.Status = status
	rec.StatusMessage = statusMessage
	rec.LastUpdatedAt = time.Now()
	m.tasks[id] = rec
	return nil
}

func (m *MemoryStorage) StoreResult(_ context.Context, id string, status schema.TaskStatus, result schema.TaskResult) error {
	if !status.IsTerminal() {
		return ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	rec.Status = status
	rec.StatusMessage = resultStatusMessage(result)
	rec.Result = &result
	rec.LastUpdatedAt = time.Now()
	m.tasks[id] = rec
	return nil
}

// resultStatusMessage is what a terminal result leaves in the record's
// statusMessage: the error message on failure, nothing on success.
func resultStatusMessage(result schema.TaskResult) string {
	if result.Error != nil {
		return result.Error.Message
	}
	return ""
}

func (m *MemoryStorage) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStorage) ListTasks(_ context.Context, cursor string, limit int) ([]Record, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(allRecordsSorted(m.tasks), cursor, limit)
}

func (m *MemoryStorage) ListTasksForSession(_ context.Context, sessionID string, cursor string, limit int) ([]Record, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var filtered []Record
	for _, rec := range m.tasks {
		if rec.SessionID == sessionID {
			filtered = append(filtered, rec)
		}
	}
	return paginate(sortRecords(filtered), cursor, limit)
}

func (m *MemoryStorage) ExpireTasks(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, rec := range m.tasks {
		if rec.Status.IsTerminal() || rec.TTL <= 0 {
			continue
		}
		if rec.LastUpdatedAt.Add(rec.TTL).Before(now) {
			expired = append(expired, id)
			delete(m.tasks, id)
		}
	}
	return expired, nil
}

func (m *MemoryStorage) RecoverStuckTasks(_ context.Context, cutoff time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stuck []Record
	for _, rec := range m.tasks {
		if !rec.Status.IsTerminal() && rec.LastUpdatedAt.Before(cutoff) {
			stuck = append(stuck, rec)
		}
	}
	return sortRecords(stuck), nil
}

func allRecordsSorted(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return sortRecords(out)
}

// sortRecords orders by CreatedAt descending then id, the deterministic
// "newest first" order task listings promise.
func sortRecords(recs []Record) []Record {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recordLess(recs[j], recs[j-1]); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
	return recs
}

func recordLess(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// paginate slices recs after the record matching cursor (an id), returning
// at most limit records and the id to resume from next.
func paginate(recs []Record, cursor string, limit int) ([]Record, string, error) {
	start := 0
	if cursor != "" {
		found := false
		for i, rec := range recs {
			if rec.ID == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, "", ErrNotFound
		}
	}
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(recs) {
		end = len(recs)
	}
	if start >= len(recs) {
		return nil, "", nil
	}
	page := recs[start:end]
	next := ""
	if end < len(recs) {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}
