package session

import (
	"container/list"
	"context"
	"sync"

	"github.com/gate4ai/mcpcore/shared"
)

// StoredEvent is one journaled outgoing message, durable enough to survive a
// GET SSE reconnect with a Last-Event-ID header.
type StoredEvent struct {
	SessionID string
	EventID   uint64
	Data      []byte // the JSON-RPC frame exactly as it was sent
}

// EventStore is the pluggable per-session event journal contract:
// put events, read back after an id, read recent, clean up expired.
// Event ids are a per-session monotonic counter, not a UUIDv7: only a
// counter can guarantee the strict per-session total order required when
// two notifications are queued for the same session within the same
// nanosecond, which two independently generated time-ordered UUIDs cannot.
type EventStore interface {
	PutEvent(ctx context.Context, sessionID string, data []byte) (eventID uint64, err error)
	GetEventsAfter(ctx context.Context, sessionID string, afterEventID uint64) ([]StoredEvent, error)
	GetRecentEvents(ctx context.Context, sessionID string, limit int) ([]StoredEvent, error)
	// CleanupExpired drops every event belonging to one of sessionIDs, used
	// to cascade a session's expiry/deletion into its journal.
	CleanupExpired(ctx context.Context, sessionIDs []string) error
}

var _ EventStore = (*MemoryEventStore)(nil)

// MemoryEventStore keeps the last maxPerSession events per session in a
// doubly linked list trimmed from the front, ring-buffer style. Adequate
// for a single-process deployment; horizontally scaled deployments should
// select one of the SQL/KV backends so every instance observes the same
// journal.
type MemoryEventStore struct {
	mu             sync.Mutex
	maxPerSession  int
	counters       map[string]uint64
	events         map[string]*list.List // sessionID -> *list.List of StoredEvent
}

func NewMemoryEventStore(maxPerSession int) *MemoryEventStore {
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	return &MemoryEventStore{
		maxPerSession: maxPerSession,
		counters:      make(map[string]uint64),
		events:        make(map[string]*list.List),
	}
}

func (m *MemoryEventStore) PutEvent(_ context.Context, sessionID string, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[sessionID]++
	id := m.counters[sessionID]

	l, ok := m.events[sessionID]
	if !ok {
		l = list.New()
		m.events[sessionID] = l
	}
	l.PushBack(StoredEvent{SessionID: sessionID, EventID: id, Data: data})
	for l.Len() > m.maxPerSession {
		l.Remove(l.Front())
	}
	return id, nil
}

func (m *MemoryEventStore) GetEventsAfter(_ context.Context, sessionID string, afterEventID uint64) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.events[sessionID]
	if !ok {
		return nil, nil
	}
	var out []StoredEvent
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(StoredEvent)
		if ev.EventID > afterEventID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryEventStore) GetRecentEvents(_ context.Context, sessionID string, limit int) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.events[sessionID]
	if !ok {
		return nil, nil
	}
	all := make([]StoredEvent, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(StoredEvent))
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *MemoryEventStore) CleanupExpired(_ context.Context, sessionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sessionIDs {
		delete(m.events, id)
		delete(m.counters, id)
	}
	return nil
}

var _ shared.EventSink = (*journalSink)(nil)

// journalSink adapts an EventStore to shared.EventSink, marshaling each
// outgoing Message to the exact bytes the transport will frame as SSE data.
type journalSink struct {
	store EventStore
}

func newJournalSink(store EventStore) *journalSink {
	return &journalSink{store: store}
}

func (j *journalSink) Record(sessionID string, msg *shared.Message) uint64 {
	data, err := msg.MarshalJSON()
	if err != nil {
		return 0
	}
	id, err := j.store.PutEvent(context.Background(), sessionID, data)
	if err != nil {
		return 0
	}
	return id
}
