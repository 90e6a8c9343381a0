package shared

import (
	"testing"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCapability registers one handler under a fixed method name, enough to
// exercise Input's routing without pulling in internal/capability.
type fakeCapability struct {
	method  string
	handler func(*Message) (interface{}, error)
}

func (f *fakeCapability) GetHandlers() map[string]func(*Message) (interface{}, error) {
	return map[string]func(*Message) (interface{}, error){f.method: f.handler}
}
func (f *fakeCapability) SetCapabilities(s *schema.ServerCapabilities) {}

var _ IServerCapability = (*fakeCapability)(nil)

func idPtr(v uint64) *schema.RequestID {
	id := schema.RequestIDFromUInt64(v)
	return &id
}

func methodPtr(m string) *string { return &m }

func receiveResponse(t *testing.T, sess ISession) *Message {
	t.Helper()
	out, ok := sess.AcquireOutput()
	require.True(t, ok)
	defer sess.ReleaseOutput()
	select {
	case msg := <-out:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func newDispatchableSession(t *testing.T) (*BaseSession, *Input) {
	t.Helper()
	logger := zap.NewNop()
	input := NewInput(logger)
	sess := NewBaseSession(logger, "", input, nil)
	go input.Process()
	time.Sleep(20 * time.Millisecond) // let Process() initialize its input channel
	t.Cleanup(func() { sess.Close() })
	return sess, input
}

func TestInput_LifecycleGateRejectsNonExemptMethodBeforeActive(t *testing.T) {
	sess, input := newDispatchableSession(t)
	input.AddServerCapability(&fakeCapability{method: "tools/list", handler: func(m *Message) (interface{}, error) {
		return map[string]any{}, nil
	}})

	msg := &Message{Session: sess, ID: idPtr(1), Method: methodPtr("tools/list")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCErrorNotInitialized, resp.Error.Code)
}

func TestInput_PingAllowedBeforeActive(t *testing.T) {
	sess, input := newDispatchableSession(t)
	input.AddServerCapability(&fakeCapability{method: "ping", handler: func(m *Message) (interface{}, error) {
		return map[string]any{}, nil
	}})

	msg := &Message{Session: sess, ID: idPtr(1), Method: methodPtr("ping")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestInput_MethodAllowedOnceSessionActive(t *testing.T) {
	sess, input := newDispatchableSession(t)
	sess.SetStatus(StatusActive)
	input.AddServerCapability(&fakeCapability{method: "tools/list", handler: func(m *Message) (interface{}, error) {
		return map[string]any{"tools": []any{}}, nil
	}})

	msg := &Message{Session: sess, ID: idPtr(2), Method: methodPtr("tools/list")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

// Unknown methods route through the default notFoundHandler (see
// AddNotFoundHandle), which dispatch always treats as "found" (it substitutes
// the not-found handler itself rather than reporting a routing miss), so the
// handler's own error is what determines the JSON-RPC error code surfaced to
// the caller.
func TestInput_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	sess, input := newDispatchableSession(t)
	sess.SetStatus(StatusActive)

	msg := &Message{Session: sess, ID: idPtr(3), Method: methodPtr("never/registered")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCErrorMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "never/registered")
}

func TestInput_CustomNotFoundHandlerCanReportMethodNotFound(t *testing.T) {
	sess, input := newDispatchableSession(t)
	sess.SetStatus(StatusActive)
	input.AddNotFoundHandle(func(m *Message) (interface{}, error) {
		return nil, &JSONRPCError{Code: JSONRPCErrorMethodNotFound, Message: "no such method"}
	})

	msg := &Message{Session: sess, ID: idPtr(6), Method: methodPtr("never/registered")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCErrorMethodNotFound, resp.Error.Code)
}

func TestInput_HandlerErrorIsSurfacedAsJSONRPCError(t *testing.T) {
	sess, input := newDispatchableSession(t)
	sess.SetStatus(StatusActive)
	input.AddServerCapability(&fakeCapability{method: "tools/call", handler: func(m *Message) (interface{}, error) {
		return nil, &JSONRPCError{Code: JSONRPCErrorInvalidParams, Message: "bad args"}
	}})

	msg := &Message{Session: sess, ID: idPtr(4), Method: methodPtr("tools/call")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCErrorInvalidParams, resp.Error.Code)
	assert.Equal(t, "bad args", resp.Error.Message)
}

func TestInput_NotificationMethodNeverSendsAResponseEvenOnError(t *testing.T) {
	sess, input := newDispatchableSession(t)
	sess.SetStatus(StatusActive)
	called := make(chan struct{}, 1)
	input.AddServerCapability(&fakeCapability{method: "notifications/custom", handler: func(m *Message) (interface{}, error) {
		called <- struct{}{}
		return nil, &JSONRPCError{Code: JSONRPCErrorInternal, Message: "should not be sent"}
	}})

	msg := &Message{Session: sess, Method: methodPtr("notifications/custom")} // no ID: notification
	require.NoError(t, input.Put(msg))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("notification handler never invoked")
	}

	out, ok := sess.AcquireOutput()
	require.True(t, ok)
	defer sess.ReleaseOutput()
	select {
	case msg := <-out:
		t.Fatalf("unexpected response sent for a notification: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInput_StrictLifecycleDisabledAllowsAnyMethod(t *testing.T) {
	sess, input := newDispatchableSession(t)
	input.StrictLifecycle.Store(false)
	input.AddServerCapability(&fakeCapability{method: "tools/list", handler: func(m *Message) (interface{}, error) {
		return map[string]any{}, nil
	}})

	msg := &Message{Session: sess, ID: idPtr(5), Method: methodPtr("tools/list")}
	require.NoError(t, input.Put(msg))

	resp := receiveResponse(t, sess)
	assert.Nil(t, resp.Error)
}
