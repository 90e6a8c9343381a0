package client

import (
	"context"
	"net/http"
	"sync"

	"github.com/gate4ai/mcpcore/client/capability"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

var _ shared.ISession = (*Session)(nil)

// Session is one connection to a remote MCP server: the client-side mirror
// of internal/session.Session. Outbound requests are delivered over POST
// (request.go); inbound server-to-client traffic (notifications, and the
// sampling/elicitation requests a server may issue mid tool-call) arrives on
// a long-lived GET stream (stream.go).
type Session struct {
	*shared.BaseSession

	mu             sync.RWMutex
	backend        *Backend
	ctx            context.Context
	cancelStream   context.CancelFunc
	httpClient     *http.Client
	currentHeaders map[string]string
	inputProcessor *shared.Input

	serverInfo     *schema.Implementation
	initialization chan error
	initClosed     bool
	closeOnce      sync.Once

	SamplingCapability    *capability.SamplingCapability
	ElicitationCapability *capability.ElicitationCapability
}

// NewSession creates a client session against backend, applying opts, and
// starts its input-processing goroutine. Call Initialize to perform the
// initialize handshake.
func (backend *Backend) NewSession(ctx context.Context, opts ...Option) *Session {
	input := shared.NewInput(backend.Logger)
	base := shared.NewBaseSession(backend.Logger, "", input, nil)
	base.Logger.Debug("creating new client session", zap.String("backendSlug", backend.Slug))

	sess := &Session{
		BaseSession:    base,
		backend:        backend,
		ctx:            ctx,
		httpClient:     http.DefaultClient,
		currentHeaders: make(map[string]string),
		inputProcessor: input,
	}
	if err := applyOptions(sess, opts); err != nil {
		base.Logger.Error("failed to apply client session options", zap.Error(err))
	}

	samplingCap := capability.NewSamplingCapability(backend.Logger)
	elicitationCap := capability.NewElicitationCapability(backend.Logger)
	input.AddClientCapability(samplingCap, elicitationCap)
	sess.SamplingCapability = samplingCap
	sess.ElicitationCapability = elicitationCap

	go input.Process()
	base.Logger.Info("client session created")
	return sess
}

func (s *Session) currentHeadersCopy() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]string, len(s.currentHeaders))
	for k, v := range s.currentHeaders {
		cp[k] = v
	}
	return cp
}

// Close stops the GET stream and releases the output channel.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.cancelStream != nil {
			s.cancelStream()
		}
		s.mu.Unlock()
	})
	return s.BaseSession.Close()
}
