package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_RoundTrip(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	rec := Record{ID: "sess-1", LastActivity: time.Now()}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
}

func TestMemoryStorage_GetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStorage()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStorage_Delete(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Record{ID: "sess-1", LastActivity: time.Now()}))
	require.NoError(t, s.Delete(ctx, "sess-1"))
	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStorage_ExpireOlderThan(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, Record{ID: "stale", LastActivity: now.Add(-time.Hour)}))
	require.NoError(t, s.Put(ctx, Record{ID: "fresh", LastActivity: now}))

	expired, err := s.ExpireOlderThan(ctx, now.Add(-time.Minute).Unix())
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, expired)

	_, err = s.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
}
