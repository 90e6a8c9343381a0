package transport

import (
	"net/http"

	"go.uber.org/zap"
)

// handleDELETE terminates the session named by Mcp-Session-Id.
func (t *Transport) handleDELETE(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionIDHeader := r.Header.Get(MCP_SESSION_HEADER)
	if sessionIDHeader == "" {
		logger.Warn("missing " + MCP_SESSION_HEADER + " header for DELETE request")
		http.Error(w, "Bad Request: "+MCP_SESSION_HEADER+" header required", statusBadRequest)
		return
	}

	if _, err := t.sessionManager.GetSession(sessionIDHeader); err != nil {
		logger.Warn("session not found for DELETE request", zap.String("sessionId", sessionIDHeader), zap.Error(err))
		http.Error(w, "Not Found: session expired or invalid", statusNotFound)
		return
	}

	logger.Info("closing session on DELETE", zap.String("sessionId", sessionIDHeader))
	t.sessionManager.CloseSession(sessionIDHeader)
	w.WriteHeader(http.StatusNoContent)
}
