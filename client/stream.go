package client

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gate4ai/mcpcore/internal/transport"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

// runEventStream holds a long-lived GET subscription against the backend's
// MCP endpoint open for as long as ctx lives, using the sse package's own
// reconnect-with-backoff loop (ReconnectStrategy/ReconnectNotify) instead
// of a bespoke retry loop. Every frame that arrives is routed through
// Input().Put the same way a POST response is.
func (s *Session) runEventStream(ctx context.Context, lastEventID string) {
	logger := s.Logger.With(zap.String("goroutine", "eventStream"))

	sseClient := sse.NewClient(s.backend.URL.String())
	headers := s.currentHeadersCopy()
	s.mu.RLock()
	sessionID := s.ID
	s.mu.RUnlock()
	if sessionID != "" {
		headers[transport.MCP_SESSION_HEADER] = sessionID
	}
	if lastEventID != "" {
		headers[transport.LAST_EVENT_ID_HEADER] = lastEventID
	}
	headers["Accept"] = "text/event-stream"
	sseClient.Headers = headers

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 0
	sseClient.ReconnectStrategy = backoff.WithContext(expBackoff, ctx)
	sseClient.ReconnectNotify = func(err error, d time.Duration) {
		logger.Warn("event stream disconnected, retrying", zap.Error(err), zap.Duration("delay", d))
	}

	ch := make(chan *sse.Event, 64)
	if err := sseClient.SubscribeChanWithContext(ctx, "", ch); err != nil {
		logger.Error("failed to open event stream", zap.Error(err))
		return
	}
	defer sseClient.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream stopped: context cancelled")
			return
		case event, ok := <-ch:
			if !ok {
				logger.Info("event stream channel closed")
				return
			}
			if event == nil || len(event.Data) == 0 {
				continue
			}
			s.deliverResponseBody(event.Data, logger)
		}
	}
}

// consumeSSEBody reads `event: message` frames (plus `: keepalive` comments,
// ignored) from a single POST response body until EOF, routing each frame's
// data through Input().Put. Separate from runEventStream because a POST
// response is a one-shot body, not a subscribable resource the sse package
// can reconnect to.
func (s *Session) consumeSSEBody(body io.Reader, logger *zap.Logger) {
	reader := bufio.NewReader(body)
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		data := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		s.deliverResponseBody([]byte(data), logger)
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, ":"):
			// keepalive comment, ignore
		default:
			if data, ok := strings.CutPrefix(trimmed, "data:"); ok {
				dataLines = append(dataLines, strings.TrimPrefix(data, " "))
			}
			// "event:"/"id:" lines carry nothing this reader needs: framing
			// within one POST response never spans a reconnect, so there is
			// no id to resume from.
		}
		if err != nil {
			flush()
			if err != io.EOF {
				logger.Warn("streamed response read error", zap.Error(err))
			}
			return
		}
	}
}
