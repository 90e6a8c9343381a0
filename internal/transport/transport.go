// Package transport implements the MCP Streamable HTTP transport: a
// single `/mcp` endpoint whose POST/GET/DELETE/OPTIONS methods carry the
// JSON-RPC traffic, the resumable SSE stream, session termination, and CORS
// preflight respectively, plus the legacy two-endpoint 2024-11-05 SSE mode
// (handle-mcp2024.go).
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"go.uber.org/zap"
)

const (
	AUTH_KEY_QUERY_PARAM = "key"            // Query parameter fallback for authentication
	MCP_PATH             = "/mcp"           // Unified Streamable HTTP endpoint
	MCP_SESSION_HEADER   = "Mcp-Session-Id" // Header carrying the session id
	LAST_EVENT_ID_HEADER = "Last-Event-ID"  // Header requesting SSE resumption

	// Content Types
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	// HTTP Statuses
	statusAccepted            = http.StatusAccepted
	statusNotFound            = http.StatusNotFound
	statusBadRequest          = http.StatusBadRequest
	statusMethodNotAllowed    = http.StatusMethodNotAllowed
	statusUnauthorized        = http.StatusUnauthorized
	statusInternalServerError = http.StatusInternalServerError
)

var responseTimeout = 30 * time.Second // Default timeout for waiting on a buffered POST response

// Transport serves MCP 2025-06-18 over the single Streamable HTTP endpoint.
type Transport struct {
	sessionManager  session.ISessionManager
	logger          *zap.Logger
	authManager     AuthenticationManager
	config          config.IConfig
	serverInfo      schema.Implementation
	NoStream        bool          // Forces buffered JSON responses even when the client accepts SSE
	sessionTimeout  time.Duration // Idle timeout for sessions
	cleanupInterval time.Duration // How often to check for idle sessions
}

// TransportOption configures a Transport at construction time.
type TransportOption func(*Transport) error

// WithStreamingDisabled forces every POST response to be buffered JSON,
// regardless of the client's Accept header. Useful behind intermediaries that
// don't support chunked transfer.
func WithStreamingDisabled(disabled bool) TransportOption {
	return func(t *Transport) error {
		t.NoStream = disabled
		return nil
	}
}

// WithSessionTimeout sets the idle timeout for sessions.
func WithSessionTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		if timeout <= 0 {
			return errors.New("session timeout must be positive")
		}
		t.sessionTimeout = timeout
		return nil
	}
}

// WithCleanupInterval sets the interval for checking idle sessions.
func WithCleanupInterval(interval time.Duration) TransportOption {
	return func(t *Transport) error {
		if interval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
		t.cleanupInterval = interval
		return nil
	}
}

// New creates a new MCP HTTP transport handler.
func New(sessionManager session.ISessionManager, logger *zap.Logger, cfg config.IConfig, options ...TransportOption) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionManager == nil {
		return nil, errors.New("session manager cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	serverName, err := cfg.ServerName()
	if err != nil {
		return nil, fmt.Errorf("failed to get server name from config: %w", err)
	}
	serverVersion, err := cfg.ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get server version from config: %w", err)
	}

	t := &Transport{
		sessionManager: sessionManager,
		logger:         logger.Named("transport"),
		authManager:    NewAuthenticator(cfg, logger),
		config:         cfg,
		serverInfo: schema.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		cleanupInterval: 5 * time.Minute,
		sessionTimeout:  30 * time.Minute,
	}

	for _, option := range options {
		if err := option(t); err != nil {
			return nil, fmt.Errorf("failed to apply transport option: %w", err)
		}
	}

	if t.sessionTimeout > 0 {
		go t.startSessionCleanup()
	}

	logger.Info("MCP HTTP transport created",
		zap.Bool("streamingDisabled", t.NoStream),
		zap.Duration("sessionTimeout", t.sessionTimeout),
	)

	return t, nil
}

// SetAuthManager allows changing the authentication manager.
func (t *Transport) SetAuthManager(authManager AuthenticationManager) {
	t.authManager = authManager
}

// RegisterMCPHandlers registers the unified endpoint on mux.
func (t *Transport) RegisterMCPHandlers(mux *http.ServeMux) {
	mux.HandleFunc(MCP_PATH, t.HandleMCP())
	t.logger.Info("registered MCP protocol handler", zap.String("path", MCP_PATH))
	t.RegisterLegacyHandlers(mux)
}

func (t *Transport) HandleMCP() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := t.logger

		logger.Debug("received request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", r.RemoteAddr),
		)

		w.Header().Set("Access-Control-Allow-Origin", "*")

		switch r.Method {
		case http.MethodGet:
			t.handleGET(w, r, logger)
		case http.MethodPost:
			t.handlePOST(w, r, logger)
		case http.MethodDelete:
			t.handleDELETE(w, r, logger)
		case http.MethodOptions:
			w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+MCP_SESSION_HEADER+", "+LAST_EVENT_ID_HEADER)
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Warn("method not allowed", zap.String("method", r.Method))
			http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		}
	}
}

// startSessionCleanup periodically closes idle sessions.
func (t *Transport) startSessionCleanup() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()
	t.logger.Info("starting session cleanup routine",
		zap.Duration("interval", t.cleanupInterval),
		zap.Duration("timeout", t.sessionTimeout),
	)
	for range ticker.C {
		t.sessionManager.CleanupIdleSessions(t.sessionTimeout)
	}
}

func sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error("failed to encode JSON response", zap.Error(err))
		}
	}
}

func sendJSONRPCErrorResponse(w http.ResponseWriter, id *schema.RequestID, code int, message string, data interface{}, logger *zap.Logger) {
	errResp := shared.JSONRPCErrorResponse{
		JSONRPC: shared.JSONRPCVersion,
		ID:      id,
		Error: &shared.JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	logger.Warn("sending JSON-RPC error", zap.Int("code", code), zap.String("message", message))
	// JSON-RPC errors still return HTTP 200: the error lives in the envelope.
	sendJSONResponse(w, http.StatusOK, errResp, logger)
}

// getSession resolves the session for a request. When sessionID is empty and
// allowCreate is true, it authenticates the caller and mints a new session
// (the initialize path); otherwise a missing or unknown id is an error.
func (t *Transport) getSession(w http.ResponseWriter, r *http.Request, sessionID string, logger *zap.Logger, allowCreate bool) (shared.ISession, error) {
	if sessionID != "" {
		sess, err := t.sessionManager.GetSession(sessionID)
		if err == nil {
			return sess, nil
		}
		logger.Warn("session lookup failed", zap.String("sessionId", sessionID), zap.Error(err))
		http.Error(w, "Not Found: session expired or invalid", statusNotFound)
		return nil, fmt.Errorf("session %s not found: %w", sessionID, err)
	}

	if !allowCreate {
		logger.Warn("missing "+MCP_SESSION_HEADER+" header", zap.String("path", r.URL.Path))
		http.Error(w, "Bad Request: "+MCP_SESSION_HEADER+" header required", statusBadRequest)
		return nil, errors.New("session id required but not present")
	}

	authKey := extractAuthKey(r)
	userID, sessionParams, err := t.authManager.Authenticate(authKey, r.RemoteAddr)
	if err != nil {
		logger.Warn("authentication failed", zap.String("remoteAddr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized: "+err.Error(), statusUnauthorized)
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if sessionParams == nil {
		sessionParams = &sync.Map{}
	}
	if userAgent := r.Header.Get("User-Agent"); userAgent != "" {
		sessionParams.Store("UserAgent", userAgent)
	}

	newSession := t.sessionManager.CreateSession(userID, "", sessionParams)
	logger.Info("created new session", zap.String("sessionId", newSession.GetID()), zap.String("userId", userID))
	return newSession, nil
}

// extractAuthKey tries the Authorization header first, then a query param.
func extractAuthKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(authHeader) > len(bearerPrefix) && authHeader[:len(bearerPrefix)] == bearerPrefix {
		return authHeader[len(bearerPrefix):]
	}
	return r.URL.Query().Get(AUTH_KEY_QUERY_PARAM)
}
