package capability

import (
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

var supportedVersions = func() map[string]bool {
	m := make(map[string]bool, len(schema.SupportedProtocolVersions))
	for _, v := range schema.SupportedProtocolVersions {
		m[v] = true
	}
	return m
}()

const latestSupportedVersion = schema.PROTOCOL_VERSION

var _ shared.IServerCapability = (*BaseCapability)(nil)

// BaseCapability provides handlers for the methods every session needs
// regardless of which optional capabilities are registered: the
// initialize/initialized handshake and ping. It is always registered first.
type BaseCapability struct {
	logger   *zap.Logger
	manager  session.ISessionManager
	handlers map[string]func(*shared.Message) (interface{}, error)
}

func NewBase(logger *zap.Logger, manager session.ISessionManager) *BaseCapability {
	bc := &BaseCapability{
		logger:  logger,
		manager: manager,
	}
	bc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"ping":                      bc.handlePing,
		"initialize":                bc.handleInitialize,
		"notifications/ping":        bc.handleNotificationPing,
		"notifications/initialized": bc.handleNotificationInitialized,
	}
	return bc
}

func (bc *BaseCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return bc.handlers
}

// SetCapabilities is a no-op: the base handshake is implicit in the
// protocol and never advertised as its own capability entry.
func (bc *BaseCapability) SetCapabilities(s *schema.ServerCapabilities) {}

func (bc *BaseCapability) handleNotificationPing(msg *shared.Message) (interface{}, error) {
	return nil, nil
}

// handleInitialize handles the 'initialize' request. A
// session may only initialize once; a second attempt is rejected with
// JSONRPCErrorAlreadyInitialized rather than silently re-negotiating.
func (bc *BaseCapability) handleInitialize(msg *shared.Message) (interface{}, error) {
	sessionID := msg.Session.GetID()
	logger := bc.logger.With(zap.String("sessionID", sessionID), zap.String("method", "initialize"))

	if status := msg.Session.GetStatus(); status != shared.StatusUninitialized {
		logger.Warn("received initialize on a session that already initialized", zap.Stringer("status", status))
		return nil, shared.NewAlreadyInitializedError()
	}
	msg.Session.SetStatus(shared.StatusInitializing)

	var params schema.InitializeRequestParams
	if msg.Params == nil {
		logger.Warn("received initialize request with missing params")
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing params"})
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("failed to unmarshal initialize params", zap.Error(err))
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)})
	}

	requestedVersion := params.ProtocolVersion
	clientCaps := params.Capabilities
	clientInfo := params.ClientInfo

	logger.Info("received initialize request",
		zap.String("requestedVersion", requestedVersion),
		zap.String("clientName", clientInfo.Name),
		zap.String("clientVersion", clientInfo.Version),
	)

	negotiatedVersion := latestSupportedVersion
	if requestedVersion == "" {
		logger.Warn("client did not specify protocol version, defaulting to latest", zap.String("negotiatedVersion", negotiatedVersion))
	} else if supportedVersions[requestedVersion] {
		negotiatedVersion = requestedVersion
		logger.Info("negotiated protocol version", zap.String("version", negotiatedVersion))
	} else {
		logger.Warn("client requested unsupported version, responding with latest",
			zap.String("requestedVersion", requestedVersion), zap.String("negotiatedVersion", negotiatedVersion))
	}

	downstream, ok := msg.Session.(session.IDownstreamSession)
	if !ok {
		logger.Error("session type assertion failed in handleInitialize")
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "internal server error: invalid session type"})
	}
	downstream.SetNegotiatedVersion(negotiatedVersion)
	downstream.SetClientInfo(clientInfo, clientCaps)

	capabilities := schema.ServerCapabilities{}
	msg.Session.Input().SetCapabilities(&capabilities)

	response := schema.InitializeResult{
		ProtocolVersion: negotiatedVersion,
		Capabilities:    capabilities,
		ServerInfo:      *bc.manager.GetServerInfo(),
	}

	logger.Debug("sending initialize response", zap.String("negotiatedVersion", negotiatedVersion))
	return response, nil
}

// handleNotificationInitialized completes the handshake (the
// Initializing -> Active). A strict-lifecycle session rejects every other
// method until this fires.
func (bc *BaseCapability) handleNotificationInitialized(msg *shared.Message) (interface{}, error) {
	session := msg.Session
	logger := bc.logger.With(zap.String("sessionID", session.GetID()), zap.String("method", "notifications/initialized"))

	currentStatus := session.GetStatus()
	if currentStatus == shared.StatusActive {
		logger.Debug("received initialized notification for already active session, ignoring")
		return nil, nil
	}
	if currentStatus != shared.StatusInitializing {
		logger.Warn("received initialized notification outside of the initializing state", zap.Stringer("status", currentStatus))
	}

	if session.GetNegotiatedVersion() == "" {
		logger.Error("received initialized notification before a successful initialize handshake")
		return nil, shared.NewJSONRPCError(&shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidRequest, Message: "protocol error: initialized received before initialize"})
	}

	session.SetStatus(shared.StatusActive)
	logger.Info("session initialized and active", zap.String("negotiatedVersion", session.GetNegotiatedVersion()))
	return nil, nil
}

func (bc *BaseCapability) handlePing(msg *shared.Message) (interface{}, error) {
	return map[string]interface{}{}, nil
}
