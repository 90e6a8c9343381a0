package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"go.uber.org/zap"
)

const sseEventMessage = "message"

// handlePOST delivers one JSON-RPC request (or batch). The
// response is either a single buffered JSON object or a chunked SSE stream,
// chosen by mode selection in decideStreaming.
func (t *Transport) handlePOST(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionIDHeader := r.Header.Get(MCP_SESSION_HEADER)

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("failed to read request body", zap.Error(err))
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorParseError, "failed to read request body", nil, logger)
		return
	}
	defer r.Body.Close()

	// Peek the first message's method before resolving a session, so that
	// "initialize" is allowed to mint a new session while everything else
	// requires an existing Mcp-Session-Id.
	isInitialize := firstMethodIs(bodyBytes, "initialize")

	sess, err := t.getSession(w, r, sessionIDHeader, logger, isInitialize)
	if err != nil {
		logger.Warn("failed to resolve session for POST", zap.Error(err))
		return // getSession already wrote the HTTP error
	}

	msgs, err := shared.ParseMessages(sess, bodyBytes)
	if err != nil {
		logger.Error("failed to parse JSON-RPC message(s)", zap.Error(err))
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorParseError, "invalid JSON: "+err.Error(), nil, logger)
		return
	}

	var requestIDs []*schema.RequestID
	for _, msg := range msgs {
		msg.Session = sess
		msg.Timestamp = time.Now()
		if msg.Method != nil && !msg.ID.IsEmpty() {
			requestIDs = append(requestIDs, msg.ID)
		}
		if putErr := sess.Input().Put(msg); putErr != nil {
			logger.Error("failed to enqueue message", zap.Error(putErr), zap.Any("msgId", msg.ID))
		}
	}

	// Notifications/responses only: nothing to wait on.
	if len(requestIDs) == 0 {
		w.Header().Set(MCP_SESSION_HEADER, sess.GetID())
		w.WriteHeader(statusAccepted)
		return
	}

	if t.decideStreaming(r, sess) {
		t.responseToStream(w, r, sess, logger, requestIDs)
	} else {
		t.responseAndCloseConnection(w, r, sess, logger, requestIDs)
	}
}

// firstMethodIs reports whether the first message in a JSON-RPC request or
// batch names method. It never errors: a malformed body simply reports false
// and is later rejected properly by shared.ParseMessages.
func firstMethodIs(body []byte, method string) bool {
	var probe struct {
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		return probe.Method != nil && *probe.Method == method
	}
	var batch []struct {
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return batch[0].Method != nil && *batch[0].Method == method
	}
	return false
}

// decideStreaming implements the POST mode-selection precedence: SSE
// is only offered when the client advertises it AND the session negotiated
// protocol version supports mid-response notifications (2025-03-26+).
// Whether the invoked handler actually emits any in-response notification is
// a per-call detail the transport cannot know in advance; offering SSE
// whenever the client accepts it and degrading gracefully to a single
// terminal frame when nothing else was emitted satisfies the same contract.
func (t *Transport) decideStreaming(r *http.Request, sess shared.ISession) bool {
	if t.NoStream {
		return false
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	if !strings.Contains(accept, contentTypeSSE) {
		return false
	}
	version := sess.GetNegotiatedVersion()
	return version == "" || version >= "2025-03-26"
}

// responseAndCloseConnection buffers every response for requestIDs and
// returns them as a single JSON object (or array, for a batch).
func (t *Transport) responseAndCloseConnection(w http.ResponseWriter, r *http.Request, sess shared.ISession, logger *zap.Logger, requestIDs []*schema.RequestID) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(MCP_SESSION_HEADER, sess.GetID())

	output, ok := sess.AcquireOutput()
	if !ok {
		logger.Error("failed to acquire output channel", zap.String("sessionId", sess.GetID()))
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorInternal, "session output unavailable", nil, logger)
		return
	}
	defer sess.ReleaseOutput()

	pending := pendingSet(requestIDs)
	responses := make([]interface{}, 0, len(requestIDs))
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

collectLoop:
	for len(pending) > 0 {
		select {
		case msg, chOk := <-output:
			if !chOk {
				logger.Info("session output channel closed", zap.String("sessionId", sess.GetID()))
				break collectLoop
			}
			if msg == nil || msg.ID == nil {
				continue // an in-flight notification, not a response to our requests
			}
			id := msg.ID.String()
			if _, expected := pending[id]; !expected {
				continue
			}
			delete(pending, id)
			responses = append(responses, envelopeFor(msg))
		case <-timer.C:
			logger.Warn("timeout waiting for response(s)", zap.String("sessionId", sess.GetID()))
			break collectLoop
		case <-r.Context().Done():
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	var payload interface{} = responses
	if len(requestIDs) == 1 && len(responses) == 1 {
		payload = responses[0]
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// responseToStream streams interim notifications and the final response(s)
// for requestIDs as SSE: `event: message` frames with
// strictly increasing `id:` values sourced from the session's event journal,
// `: keepalive` comments (no custom event name, so EventSource-based clients
// don't silently drop them), and exactly one terminal frame per request id.
func (t *Transport) responseToStream(w http.ResponseWriter, r *http.Request, sess shared.ISession, logger *zap.Logger, requestIDs []*schema.RequestID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming unsupported by response writer", zap.String("sessionId", sess.GetID()))
		http.Error(w, "Streaming unsupported", statusInternalServerError)
		return
	}

	output, ok := sess.AcquireOutput()
	if !ok {
		logger.Error("failed to acquire output channel", zap.String("sessionId", sess.GetID()))
		http.Error(w, "session output unavailable", statusInternalServerError)
		return
	}
	defer sess.ReleaseOutput()

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCP_SESSION_HEADER, sess.GetID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pending := pendingSet(requestIDs)
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	timeout := time.NewTimer(responseTimeout)
	defer timeout.Stop()

	ctx := r.Context()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			logger.Info("client disconnected from POST SSE stream", zap.String("sessionId", sess.GetID()))
			return
		case <-timeout.C:
			logger.Warn("timeout waiting for response(s) on POST SSE stream", zap.String("sessionId", sess.GetID()))
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
			if msg.ID != nil {
				delete(pending, msg.ID.String())
			}
		}
	}
}

func pendingSet(ids []*schema.RequestID) map[string]struct{} {
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != nil {
			pending[id.String()] = struct{}{}
		}
	}
	return pending
}

func envelopeFor(msg *shared.Message) interface{} {
	if msg.Error != nil {
		return shared.JSONRPCErrorResponse{JSONRPC: shared.JSONRPCVersion, ID: msg.ID, Error: msg.Error}
	}
	result := msg.Result
	if result == nil {
		null := json.RawMessage("null")
		result = &null
	}
	return shared.JSONRPCResponse{JSONRPC: shared.JSONRPCVersion, ID: msg.ID, Result: result}
}

// writeSSEFrame writes one `event: message` frame. The id: field is the
// journal sequence number stamped by the session's EventSink; resumability
// requires strictly increasing ids, which the journal's per-session counter
// provides. An un-journaled message (no sink attached, or an in-process
// notice like stream/lagged) is framed without an id: line so it never
// disturbs the client's Last-Event-ID tracking.
// msg is marshaled through its own MarshalJSON (not envelopeFor, which only
// knows how to shape terminal responses) so that interim notifications
// (progress, logging, partial results) keep their method/params on the wire.
func writeSSEFrame(w http.ResponseWriter, msg *shared.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if msg.EventID == 0 {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventMessage, data)
		return
	}
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", sseEventMessage, msg.EventID, data)
}
