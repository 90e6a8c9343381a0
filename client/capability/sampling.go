// Package capability holds the handlers a client session registers for the
// requests a server is allowed to send it: sampling/createMessage and
// elicitation/create.
package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// SamplingFunc answers a server's sampling/createMessage request, typically
// by running a local or remote LLM call.
type SamplingFunc func(params schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error)

// SamplingCapability answers sampling/createMessage requests from a
// connected server.
type SamplingCapability struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	handler SamplingFunc
}

func NewSamplingCapability(logger *zap.Logger) *SamplingCapability {
	return &SamplingCapability{logger: logger}
}

func (sc *SamplingCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"sampling/createMessage": sc.handleCreateMessage,
	}
}

func (sc *SamplingCapability) SetCapabilities(c *schema.ClientCapabilities) {
	c.Sampling = &struct{}{}
}

// Subscribe registers the function that answers sampling requests. Only one
// handler is active at a time; a later call replaces an earlier one.
func (sc *SamplingCapability) Subscribe(f SamplingFunc) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handler = f
}

func (sc *SamplingCapability) Unsubscribe() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handler = nil
}

func (sc *SamplingCapability) handleCreateMessage(msg *shared.Message) (interface{}, error) {
	if msg.ID == nil || msg.ID.IsEmpty() {
		return nil, errors.New("sampling/createMessage without a request id cannot be answered")
	}
	if msg.Params == nil {
		return nil, fmt.Errorf("sampling/createMessage: missing params")
	}
	var params schema.CreateMessageRequestParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, fmt.Errorf("sampling/createMessage: invalid params: %w", err)
	}

	sc.mu.RLock()
	handler := sc.handler
	sc.mu.RUnlock()
	if handler == nil {
		return nil, errors.New("sampling not supported by this client")
	}

	result, err := handler(params)
	if err != nil {
		return nil, fmt.Errorf("sampling handler error: %w", err)
	}
	if result == nil {
		return nil, errors.New("sampling handler returned a nil result")
	}
	msg.Processed = true
	return result, nil
}
