package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/shared"

	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

// runOutputPump drains the session's output channel and transmits every
// outgoing message over HTTP POST, one request per message. The SSE push
// channel is stream.go's independent goroutine, not multiplexed into this
// select: this transport needs no "endpoint" discovery event to learn where
// to POST.
func (s *Session) runOutputPump() {
	logger := s.Logger.With(zap.String("goroutine", "outputPump"))
	output, ok := s.AcquireOutput()
	if !ok {
		logger.Error("failed to acquire session output channel")
		return
	}
	defer s.ReleaseOutput()

	for msg := range output {
		if msg == nil {
			continue
		}
		s.executeSendRequest(msg)
	}
	logger.Debug("output pump stopped: channel closed")
}

// executeSendRequest POSTs msg to the backend's single MCP endpoint and
// feeds whatever comes back (a buffered JSON response, or an SSE stream of
// interim notifications followed by a terminal response) into Input().Put,
// which routes each parsed message to either the RequestManager (a response
// to a request we issued) or a registered capability handler (a
// server-initiated request such as sampling/createMessage).
func (s *Session) executeSendRequest(msg *shared.Message) {
	logger := s.Logger.With(zap.Stringp("method", msg.Method))

	notifyError := func(err error) {
		if msg.ID != nil && !msg.ID.IsEmpty() {
			s.GetRequestManager().ProcessResponse(&shared.Message{ID: msg.ID, Error: shared.NewJSONRPCError(err), Session: s})
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal outgoing message", zap.Error(err))
		notifyError(fmt.Errorf("internal marshal error for %q: %w", shared.NilIfNil(msg.Method), err))
		return
	}

	reqCtx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	// Transport failures are retryable; redial with the
	// same exponential backoff stream.go uses for SSE reconnects.
	var resp *http.Response
	attempt := func() error {
		req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodPost, s.backend.URL.String(), bytes.NewReader(body))
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		s.applyHeaders(req)
		var doErr error
		resp, doErr = s.httpClient.Do(req)
		return doErr
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(expo, reqCtx)); err != nil {
		logger.Warn("HTTP POST failed", zap.Error(err))
		notifyError(shared.NewTransportError(fmt.Errorf("http request failed: %w", err)))
		return
	}
	defer resp.Body.Close()

	if sessionID := resp.Header.Get(transport.MCP_SESSION_HEADER); sessionID != "" {
		s.mu.Lock()
		s.ID = sessionID
		s.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted {
		return // notification: no body to read
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		logger.Error("server returned an error status", zap.Int("status", resp.StatusCode), zap.ByteString("body", errBody))
		notifyError(fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(errBody)))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/event-stream") {
		s.consumeSSEBody(resp.Body, logger)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("failed to read response body", zap.Error(err))
		notifyError(fmt.Errorf("failed to read response: %w", err))
		return
	}
	if len(respBody) == 0 {
		return
	}
	s.deliverResponseBody(respBody, logger)
}

func (s *Session) applyHeaders(req *http.Request) {
	s.mu.RLock()
	sessionID := s.ID
	headers := make(map[string]string, len(s.currentHeaders))
	for k, v := range s.currentHeaders {
		headers[k] = v
	}
	s.mu.RUnlock()
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if sessionID != "" {
		req.Header.Set(transport.MCP_SESSION_HEADER, sessionID)
	}
}

func (s *Session) deliverResponseBody(body []byte, logger *zap.Logger) {
	msgs, err := shared.ParseMessages(s, body)
	if err != nil {
		logger.Error("failed to parse response body", zap.Error(err))
		return
	}
	for _, m := range msgs {
		if putErr := s.Input().Put(m); putErr != nil {
			logger.Error("failed to route response", zap.Error(putErr))
		}
	}
}
