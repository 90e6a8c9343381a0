package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// handleGET opens the server-push stream for a session, optionally
// resuming from Last-Event-ID by replaying the session's journal before
// switching to live delivery.
func (t *Transport) handleGET(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionIDHeader := r.Header.Get(MCP_SESSION_HEADER)
	if sessionIDHeader == "" {
		logger.Warn("missing " + MCP_SESSION_HEADER + " header for GET stream")
		http.Error(w, "Bad Request: "+MCP_SESSION_HEADER+" header required", statusBadRequest)
		return
	}

	sess, err := t.getSession(w, r, sessionIDHeader, logger, false)
	if err != nil {
		logger.Warn("failed to resolve session for GET stream", zap.Error(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming unsupported by response writer")
		http.Error(w, "Streaming unsupported", statusInternalServerError)
		return
	}

	// Every open GET stream is an independent broadcast subscriber: all of
	// them observe the session's full event sequence, and a subscriber that
	// cannot keep up is dropped with a stream/lagged notice rather than
	// allowed to slow the producers down.
	stream, cancel := sess.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCP_SESSION_HEADER, sess.GetID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Resumability: replay every journaled event strictly after Last-Event-ID
	// before switching to live delivery.
	if lastEventIDHeader := r.Header.Get(LAST_EVENT_ID_HEADER); lastEventIDHeader != "" {
		lastEventID, parseErr := strconv.ParseUint(lastEventIDHeader, 10, 64)
		if parseErr != nil {
			logger.Warn("invalid "+LAST_EVENT_ID_HEADER+" header", zap.String("value", lastEventIDHeader))
		} else {
			events, evErr := t.sessionManager.Events().GetEventsAfter(r.Context(), sess.GetID(), lastEventID)
			if evErr != nil {
				logger.Error("failed to replay event journal", zap.Error(evErr))
			}
			for _, ev := range events {
				fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", sseEventMessage, ev.EventID, ev.Data)
			}
			flusher.Flush()
		}
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("GET stream client disconnected", zap.String("sessionId", sess.GetID()))
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-stream:
			if !ok {
				// Dropped as lagged (after the stream/lagged notice) or the
				// session closed; the client reconnects with Last-Event-ID.
				logger.Info("broadcast stream closed", zap.String("sessionId", sess.GetID()))
				return
			}
			if msg == nil {
				continue
			}
			writeSSEFrame(w, msg)
			flusher.Flush()
		}
	}
}
