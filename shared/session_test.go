package shared

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBroadcastTestSession(t *testing.T) *BaseSession {
	t.Helper()
	logger := zap.NewNop()
	sess := NewBaseSession(logger, "", NewInput(logger), nil)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func drainOne(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed before a message arrived")
		return msg
	default:
		t.Fatal("no message buffered")
		return nil
	}
}

func TestSubscribe_AllSubscribersObserveEveryNotification(t *testing.T) {
	sess := newBroadcastTestSession(t)

	first, cancelFirst := sess.Subscribe()
	defer cancelFirst()
	second, cancelSecond := sess.Subscribe()
	defer cancelSecond()

	methods := []string{"notifications/progress", "notifications/message", "notifications/progress"}
	for _, m := range methods {
		sess.SendNotification(m, map[string]any{"k": "v"})
	}

	for _, ch := range []<-chan *Message{first, second} {
		for _, want := range methods {
			msg := drainOne(t, ch)
			require.NotNil(t, msg.Method)
			assert.Equal(t, want, *msg.Method)
		}
	}
}

func TestSubscribe_CancelDetachesAndClosesChannel(t *testing.T) {
	sess := newBroadcastTestSession(t)

	ch, cancel := sess.Subscribe()
	cancel()

	sess.SendNotification("notifications/progress", nil)
	_, ok := <-ch
	assert.False(t, ok, "cancelled subscriber channel must be closed")
}

func TestSubscribe_SlowSubscriberIsDroppedWithLaggedNotice(t *testing.T) {
	sess := newBroadcastTestSession(t)

	ch, cancel := sess.Subscribe()
	defer cancel()

	// One more than the buffer: the overflow drops this subscriber.
	for i := 0; i < subscriberBuffer+1; i++ {
		sess.SendNotification("notifications/progress", map[string]any{"i": i})
	}

	var last *Message
	count := 0
	for msg := range ch {
		last = msg
		count++
	}
	require.NotNil(t, last)
	require.NotNil(t, last.Method)
	assert.Equal(t, StreamLaggedMethod, *last.Method, "final message before close must be the lagged notice")
	assert.LessOrEqual(t, count, subscriberBuffer+1)

	// A healthy subscriber attached afterwards still receives new events.
	fresh, cancelFresh := sess.Subscribe()
	defer cancelFresh()
	sess.SendNotification("notifications/message", nil)
	msg := drainOne(t, fresh)
	assert.Equal(t, "notifications/message", *msg.Method)
}

func TestSubscribe_CloseClosesAllSubscribers(t *testing.T) {
	logger := zap.NewNop()
	sess := NewBaseSession(logger, "", NewInput(logger), nil)

	ch, _ := sess.Subscribe()
	require.NoError(t, sess.Close())

	_, ok := <-ch
	assert.False(t, ok, "session close must close subscriber channels")
}

func TestSubscribe_DoesNotBlockProducer(t *testing.T) {
	sess := newBroadcastTestSession(t)

	_, cancel := sess.Subscribe()
	defer cancel()

	// Far past any buffer; SendNotification must never block even though
	// nobody drains the subscriber or the output channel.
	for i := 0; i < subscriberBuffer*4; i++ {
		sess.SendNotification("notifications/progress", map[string]any{"i": fmt.Sprint(i)})
	}
}
