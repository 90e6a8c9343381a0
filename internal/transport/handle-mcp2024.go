package transport

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gate4ai/mcpcore/shared"
)

const (
	MCP_LEGACY_SSE_PATH      = "/sse"      // Legacy 2024-11-05 server-push endpoint
	MCP_LEGACY_MESSAGES_PATH = "/messages" // Legacy 2024-11-05 client-post endpoint
	SESSION_ID_QUERY_PARAM   = "sessionId" // Query parameter carrying the session id on the legacy POST path

	sseEventEndpoint = "endpoint"
)

// RegisterLegacyHandlers mounts the two-endpoint HTTP+SSE mode used by
// protocol versions <= 2024-11-05: a GET SSE stream that announces the POST
// endpoint via an `endpoint` event, and a POST endpoint addressed by session
// id query parameter. Semantics otherwise match the unified endpoint.
func (t *Transport) RegisterLegacyHandlers(mux *http.ServeMux) {
	mux.HandleFunc(MCP_LEGACY_SSE_PATH, t.handleLegacyGET)
	mux.HandleFunc(MCP_LEGACY_MESSAGES_PATH, t.handleLegacyPOST)
	t.logger.Info("registered legacy SSE protocol handlers",
		zap.String("ssePath", MCP_LEGACY_SSE_PATH),
		zap.String("messagesPath", MCP_LEGACY_MESSAGES_PATH),
	)
}

// handleLegacyGET opens the persistent SSE stream for a legacy client. The
// session is created here (the legacy flow has no initialize-over-POST
// handshake before the stream opens) and announced through the mandatory
// `endpoint` event carrying the POST path the client must use.
func (t *Transport) handleLegacyGET(w http.ResponseWriter, r *http.Request) {
	logger := t.logger.With(zap.String("method", "handleLegacyGET"))
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		return
	}

	sess, err := t.getSession(w, r, "", logger, true)
	if err != nil {
		return // getSession already wrote the HTTP error
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming unsupported by response writer", zap.String("sessionId", sess.GetID()))
		t.sessionManager.CloseSession(sess.GetID())
		http.Error(w, "Streaming unsupported", statusInternalServerError)
		return
	}

	output, ok := sess.AcquireOutput()
	if !ok {
		logger.Error("failed to acquire output channel", zap.String("sessionId", sess.GetID()))
		t.sessionManager.CloseSession(sess.GetID())
		http.Error(w, "session output unavailable", statusInternalServerError)
		return
	}
	defer sess.ReleaseOutput()

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	endpointPath := MCP_LEGACY_MESSAGES_PATH + "?" + SESSION_ID_QUERY_PARAM + "=" + sess.GetID()
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventEndpoint, endpointPath)
	flusher.Flush()
	logger.Debug("sent endpoint event", zap.String("sessionId", sess.GetID()), zap.String("endpoint", endpointPath))

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("legacy SSE client disconnected", zap.String("sessionId", sess.GetID()))
			t.sessionManager.CloseSession(sess.GetID())
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, chOk := <-output:
			if !chOk {
				logger.Info("session output channel closed", zap.String("sessionId", sess.GetID()))
				return
			}
			if msg == nil {
				continue
			}
			writeSSEFrame(w, msg)
			flusher.Flush()
			sess.UpdateLastActivity()
		}
	}
}

// handleLegacyPOST accepts one JSON-RPC request (or batch) addressed by the
// sessionId query parameter. Responses travel back over the session's SSE
// stream, never in the POST body, so the handler always answers 202.
func (t *Transport) handleLegacyPOST(w http.ResponseWriter, r *http.Request) {
	logger := t.logger.With(zap.String("method", "handleLegacyPOST"))
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get(SESSION_ID_QUERY_PARAM)
	sess, err := t.getSession(w, r, sessionID, logger, false)
	if err != nil {
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read request body", zap.Error(err))
		w.WriteHeader(statusAccepted)
		return
	}
	defer r.Body.Close()

	msgs, err := shared.ParseMessages(sess, bodyBytes)
	if err != nil {
		// The legacy flow has no response body to carry a parse error; it is
		// logged and the body is dropped.
		logger.Error("failed to parse JSON-RPC message(s)", zap.Error(err))
		w.WriteHeader(statusAccepted)
		return
	}

	for _, msg := range msgs {
		msg.Session = sess
		msg.Timestamp = time.Now()
		if putErr := sess.Input().Put(msg); putErr != nil {
			logger.Error("failed to enqueue message", zap.Error(putErr), zap.Any("msgId", msg.ID))
		}
	}
	w.WriteHeader(statusAccepted)
}
