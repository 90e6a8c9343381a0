package capability

import (
	"encoding/json"
	"testing"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManagerAndSession(t *testing.T) (session.ISessionManager, shared.ISession) {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	manager, err := session.NewManager(logger, cfg, session.NewMemoryStorage(), session.NewMemoryEventStore(16))
	require.NoError(t, err)
	sess := manager.CreateSession("", "", nil)
	t.Cleanup(func() { manager.CloseAllSessions() })
	return manager, sess
}

func initializeParams(t *testing.T, version string) *json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(schema.InitializeRequestParams{
		ProtocolVersion: version,
		ClientInfo:      schema.Implementation{Name: "test-client", Version: "1.0.0"},
	})
	require.NoError(t, err)
	rm := json.RawMessage(raw)
	return &rm
}

func TestBaseCapability_HandleInitializeNegotiatesRequestedVersion(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	bc := NewBase(zap.NewNop(), manager)

	msg := &shared.Message{Session: sess, Params: initializeParams(t, schema.PROTOCOL_VERSION)}
	result, err := bc.handleInitialize(msg)
	require.NoError(t, err)

	initResult, ok := result.(schema.InitializeResult)
	require.True(t, ok)
	assert.Equal(t, schema.PROTOCOL_VERSION, initResult.ProtocolVersion)
	assert.Equal(t, shared.StatusInitializing, sess.GetStatus())
}

func TestBaseCapability_HandleInitializeFallsBackToLatestForUnsupportedVersion(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	bc := NewBase(zap.NewNop(), manager)

	msg := &shared.Message{Session: sess, Params: initializeParams(t, "1999-01-01")}
	result, err := bc.handleInitialize(msg)
	require.NoError(t, err)

	initResult := result.(schema.InitializeResult)
	assert.Equal(t, schema.PROTOCOL_VERSION, initResult.ProtocolVersion)
}

func TestBaseCapability_HandleInitializeRejectsSecondAttempt(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	bc := NewBase(zap.NewNop(), manager)

	msg := &shared.Message{Session: sess, Params: initializeParams(t, schema.PROTOCOL_VERSION)}
	_, err := bc.handleInitialize(msg)
	require.NoError(t, err)

	_, err = bc.handleInitialize(msg)
	require.Error(t, err)
	jerr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, shared.JSONRPCErrorAlreadyInitialized, jerr.Code)
}

func TestBaseCapability_HandleInitializeRejectsMissingParams(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	bc := NewBase(zap.NewNop(), manager)

	_, err := bc.handleInitialize(&shared.Message{Session: sess})
	require.Error(t, err)
	jerr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, shared.JSONRPCErrorInvalidParams, jerr.Code)
}

func TestBaseCapability_NotificationInitializedActivatesSession(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	bc := NewBase(zap.NewNop(), manager)

	_, err := bc.handleInitialize(&shared.Message{Session: sess, Params: initializeParams(t, schema.PROTOCOL_VERSION)})
	require.NoError(t, err)

	_, err = bc.handleNotificationInitialized(&shared.Message{Session: sess})
	require.NoError(t, err)
	assert.Equal(t, shared.StatusActive, sess.GetStatus())
}

func TestBaseCapability_NotificationInitializedBeforeInitializeIsRejected(t *testing.T) {
	_, sess := newTestManagerAndSession(t)
	bc := NewBase(zap.NewNop(), nil)

	_, err := bc.handleNotificationInitialized(&shared.Message{Session: sess})
	require.Error(t, err)
	jerr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, shared.JSONRPCErrorInvalidRequest, jerr.Code)
}

func TestBaseCapability_HandlePingReturnsEmptyResult(t *testing.T) {
	bc := NewBase(zap.NewNop(), nil)
	result, err := bc.handlePing(&shared.Message{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, result)
}
