package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventStore_PutThenGetEventsAfterRoundTrip(t *testing.T) {
	es := NewMemoryEventStore(10)
	ctx := context.Background()

	id, err := es.PutEvent(ctx, "sess-1", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	events, err := es.GetEventsAfter(ctx, "sess-1", id-1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].EventID)
	assert.Equal(t, []byte(`{"a":1}`), events[0].Data)
}

func TestMemoryEventStore_EventIDsStrictlyIncreasingPerSession(t *testing.T) {
	es := NewMemoryEventStore(100)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 20; i++ {
		id, err := es.PutEvent(ctx, "sess-1", []byte("x"))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestMemoryEventStore_GetEventsAfterReturnsOnlyStrictlyGreater(t *testing.T) {
	es := NewMemoryEventStore(100)
	ctx := context.Background()
	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := es.PutEvent(ctx, "sess-1", []byte("x"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	events, err := es.GetEventsAfter(ctx, "sess-1", ids[2])
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ids[3], events[0].EventID)
	assert.Equal(t, ids[4], events[1].EventID)
}

func TestMemoryEventStore_CapacityDropsOldestWithoutReappearingIDs(t *testing.T) {
	es := NewMemoryEventStore(3)
	ctx := context.Background()
	var lastID uint64
	for i := 0; i < 10; i++ {
		id, err := es.PutEvent(ctx, "sess-1", []byte("x"))
		require.NoError(t, err)
		lastID = id
	}

	recent, err := es.GetRecentEvents(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, lastID, recent[len(recent)-1].EventID)
	for _, e := range recent {
		assert.Greater(t, e.EventID, lastID-3)
	}
}

func TestMemoryEventStore_GetRecentEventsLimit(t *testing.T) {
	es := NewMemoryEventStore(100)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := es.PutEvent(ctx, "sess-1", []byte("x"))
		require.NoError(t, err)
	}
	recent, err := es.GetRecentEvents(ctx, "sess-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
}

func TestMemoryEventStore_CleanupExpiredRemovesSessionJournal(t *testing.T) {
	es := NewMemoryEventStore(10)
	ctx := context.Background()
	_, err := es.PutEvent(ctx, "sess-1", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, es.CleanupExpired(ctx, []string{"sess-1"}))

	events, err := es.GetEventsAfter(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Counter resets too: the next PutEvent for this session starts back at 1.
	id, err := es.PutEvent(ctx, "sess-1", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestMemoryEventStore_UnknownSessionReturnsNoEvents(t *testing.T) {
	es := NewMemoryEventStore(10)
	events, err := es.GetEventsAfter(context.Background(), "never-seen", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
