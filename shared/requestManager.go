package shared

import (
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"go.uber.org/zap"
)

// RequestCallback handles a response message for a previously sent request.
type RequestCallback func(msg *Message)

type Request struct {
	Callback  RequestCallback
	Timestamp time.Time
}

// RequestManager correlates outgoing requests with their eventual response,
// keyed by request id. The same pattern generalizes, in internal/task, to
// correlating a task id with its cancellation handle.
type RequestManager struct {
	requests map[string]Request
	mu       sync.RWMutex
	logger   *zap.Logger
}

func NewRequestManager(logger *zap.Logger) *RequestManager {
	return &RequestManager{
		requests: make(map[string]Request),
		logger:   logger,
	}
}

func (rm *RequestManager) RegisterRequest(id *schema.RequestID, callback RequestCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.requests[id.String()] = Request{Callback: callback, Timestamp: time.Now()}
	rm.logger.Debug("registered request", zap.String("message_id", id.String()), zap.Int("pending", len(rm.requests)))
}

// ProcessResponse invokes and clears the callback for msg's id, if one is registered.
func (rm *RequestManager) ProcessResponse(msg *Message) bool {
	if msg.ID == nil {
		rm.logger.Error("response message has no id")
		return false
	}

	rm.mu.RLock()
	request, exists := rm.requests[msg.ID.String()]
	rm.mu.RUnlock()

	if !exists || request.Callback == nil {
		rm.logger.Warn("no callback registered for response", zap.String("message_id", msg.ID.String()))
		return false
	}

	request.Callback(msg)
	msg.Processed = true

	rm.mu.Lock()
	delete(rm.requests, msg.ID.String())
	rm.mu.Unlock()

	return true
}
