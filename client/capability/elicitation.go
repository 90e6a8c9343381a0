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

// ElicitationFunc answers a server's elicitation/create request with a
// structured reply, typically by prompting a human.
type ElicitationFunc func(params schema.ElicitationRequestParams) (*schema.ElicitationResult, error)

// ElicitationCapability answers elicitation/create requests, the
// server-to-client half of a task's InputRequired state. Grounded on
// SamplingCapability, generalized from "produce a message" to "produce a
// schema-validated answer."
type ElicitationCapability struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	handler ElicitationFunc
}

func NewElicitationCapability(logger *zap.Logger) *ElicitationCapability {
	return &ElicitationCapability{logger: logger}
}

func (ec *ElicitationCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"elicitation/create": ec.handleCreate,
	}
}

func (ec *ElicitationCapability) SetCapabilities(c *schema.ClientCapabilities) {
	c.Elicitation = &struct{}{}
}

func (ec *ElicitationCapability) Subscribe(f ElicitationFunc) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.handler = f
}

func (ec *ElicitationCapability) Unsubscribe() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.handler = nil
}

func (ec *ElicitationCapability) handleCreate(msg *shared.Message) (interface{}, error) {
	if msg.ID == nil || msg.ID.IsEmpty() {
		return nil, errors.New("elicitation/create without a request id cannot be answered")
	}
	if msg.Params == nil {
		return nil, fmt.Errorf("elicitation/create: missing params")
	}
	var params schema.ElicitationRequestParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, fmt.Errorf("elicitation/create: invalid params: %w", err)
	}

	ec.mu.RLock()
	handler := ec.handler
	ec.mu.RUnlock()
	if handler == nil {
		return &schema.ElicitationResult{Action: "decline"}, nil
	}

	result, err := handler(params)
	if err != nil {
		return nil, fmt.Errorf("elicitation handler error: %w", err)
	}
	if result == nil {
		return nil, errors.New("elicitation handler returned a nil result")
	}
	msg.Processed = true
	return result, nil
}
