package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// Initialize performs the initialize handshake: send "initialize", wait for
// the server's result, record the negotiated version and session id, send
// "notifications/initialized", and start the background goroutines that
// carry traffic for the rest of the session's life (the POST output pump
// and the GET event stream).
func (s *Session) Initialize(ctx context.Context, clientInfo schema.Implementation) (*schema.InitializeResult, error) {
	go s.runOutputPump()

	params := &schema.InitializeRequestParams{
		ProtocolVersion: schema.PROTOCOL_VERSION,
		ClientInfo:      clientInfo,
		Capabilities: schema.ClientCapabilities{
			Sampling:    &struct{}{},
			Elicitation: &struct{}{},
		},
	}

	s.Logger.Debug("sending initialize request", zap.Any("params", params))
	select {
	case msg, ok := <-s.SendRequestSync("initialize", params):
		if !ok || msg == nil {
			return nil, fmt.Errorf("initialize: session closed before a reply arrived")
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("initialize: %w", msg.Error)
		}
		if msg.Result == nil {
			return nil, fmt.Errorf("initialize: empty result")
		}
		var result schema.InitializeResult
		if err := json.Unmarshal(*msg.Result, &result); err != nil {
			return nil, fmt.Errorf("decode initialize result: %w", err)
		}

		if _, supported := supportedProtocolVersions[result.ProtocolVersion]; !supported {
			return nil, fmt.Errorf("server negotiated unsupported protocol version %q", result.ProtocolVersion)
		}

		s.SetNegotiatedVersion(result.ProtocolVersion)
		s.mu.Lock()
		s.serverInfo = &result.ServerInfo
		s.mu.Unlock()
		s.SetStatus(shared.StatusActive)

		s.Logger.Info("initialize handshake complete",
			zap.String("negotiatedVersion", result.ProtocolVersion),
			zap.String("serverName", result.ServerInfo.Name),
		)

		streamCtx, cancel := context.WithCancel(s.ctx)
		s.mu.Lock()
		s.cancelStream = cancel
		s.mu.Unlock()
		go s.runEventStream(streamCtx, "")

		s.SendNotification("notifications/initialized", map[string]any{})
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// supportedProtocolVersions lists every protocol version this client can
// speak to a server; only the current wire version for now.
var supportedProtocolVersions = map[string]bool{
	schema.PROTOCOL_VERSION: true,
}

// ServerInfo returns the Implementation the server reported during
// initialize, or nil if Initialize has not completed successfully yet.
func (s *Session) ServerInfo() *schema.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serverInfo == nil {
		return nil
	}
	info := *s.serverInfo
	return &info
}
