package shared

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionStatus is the session lifecycle state machine:
//
//	Uninitialized --initialize--> Initializing --initialized notif--> Active
//	Active --(session delete / TTL)--> Terminated
type SessionStatus int

const (
	StatusUninitialized SessionStatus = iota
	StatusInitializing
	StatusActive
	StatusTerminated
)

func (s SessionStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusActive:
		return "active"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// lifecycleExemptMethods may be called before a session reaches StatusActive.
// Everything else is rejected with JSONRPCErrorNotInitialized when the
// session's strict-lifecycle flag is set (see Input.StrictLifecycle).
var lifecycleExemptMethods = map[string]bool{
	"initialize":                 true,
	"notifications/initialized":  true,
	"ping":                       true,
}

// IsLifecycleExempt reports whether method may run before initialization completes.
func IsLifecycleExempt(method string) bool {
	return lifecycleExemptMethods[method]
}

type ISession interface {
	GetID() string

	AcquireOutput() (<-chan *Message, bool)
	ReleaseOutput()
	Subscribe() (<-chan *Message, func())
	Input() *Input

	SendResponse(msgId *schema.RequestID, result interface{}, err error)
	SendNotification(method string, params map[string]any)
	SendRequest(method string, params interface{}, callback RequestCallback) (*schema.RequestID, error)
	SendRequestSync(method string, params interface{}) <-chan *Message

	SetNegotiatedVersion(version string)
	GetNegotiatedVersion() string

	GetLastActivity() time.Time
	UpdateLastActivity()

	GetStatus() SessionStatus
	SetStatus(status SessionStatus)
	Close() error
	GetRequestManager() *RequestManager
	NextMessageID() schema.RequestID
	GetParamsMutex() *sync.RWMutex
	GetParams() *sync.Map
	GetLogger() *zap.Logger
}

var _ ISession = (*BaseSession)(nil)

// BaseSession provides the fields and wire-framing logic shared by every
// session implementation (server and client). Persistence of the session
// record itself is the job of the caller's SessionStorage,
// not of BaseSession, which only owns the live in-process fan-out channel.
type BaseSession struct {
	Mu                sync.RWMutex
	ID                string
	messageID         uint64
	CreatedAt         time.Time
	LastActivity      atomic.Value
	status            SessionStatus
	ParamsMutex       sync.RWMutex
	Params            *sync.Map
	RequestManager    *RequestManager
	output            chan *Message
	isOutputAcquired  bool
	subscribers       map[uint64]chan *Message
	nextSubscriberID  uint64
	Logger            *zap.Logger
	negotiatedVersion string
	inputProcessor    *Input
	eventSink         EventSink
}

// EventSink records an outgoing message for a session in a durable,
// replayable journal and returns the sequence number
// assigned to it. Implementations must hand out strictly increasing ids per
// session; a BaseSession with no sink attached sends events
// un-journaled (EventID stays 0), which is correct for the stdio transport
// and for the legacy 2024 SSE path, neither of which support resumption.
type EventSink interface {
	Record(sessionID string, msg *Message) uint64
}

// SetEventSink attaches the journal this session's outgoing notifications
// and responses are recorded into. Called once by the session manager right
// after construction; nil is a valid value (no journaling).
func (s *BaseSession) SetEventSink(sink EventSink) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.eventSink = sink
}

// NewBaseSession creates a new base session. If id is empty a UUIDv7 is
// generated (time-ordered, matching the strict per-session ordering required of
// session/event/task identifiers).
func NewBaseSession(logger *zap.Logger, id string, inputProcessor *Input, params *sync.Map) *BaseSession {
	if params == nil {
		params = &sync.Map{}
	}
	sessionID := id
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	sessionLogger := logger.With(zap.String("session_id", sessionID))
	sessionLogger.Debug("creating new session")
	s := &BaseSession{
		Logger:         sessionLogger,
		ID:             sessionID,
		CreatedAt:      time.Now(),
		status:         StatusUninitialized,
		Params:         params,
		RequestManager: NewRequestManager(sessionLogger),
		output:         make(chan *Message, 100),
		inputProcessor: inputProcessor,
	}
	s.UpdateLastActivity()
	return s
}

// NewSessionID returns a time-ordered (UUIDv7) identifier suitable for
// session, event, and task ids.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the OS entropy source is broken; fall
		// back to a random v4 rather than panicking a live server.
		return uuid.NewString()
	}
	return id.String()
}

func (s *BaseSession) NextMessageID() schema.RequestID {
	return schema.RequestIDFromUInt64(atomic.AddUint64(&s.messageID, 1))
}

func (s *BaseSession) GetID() string { return s.ID }

func (s *BaseSession) GetParams() *sync.Map { return s.Params }

func (s *BaseSession) GetParamsMutex() *sync.RWMutex { return &s.ParamsMutex }

func (s *BaseSession) GetStatus() SessionStatus {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.status
}

func (s *BaseSession) SetStatus(status SessionStatus) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.status = status
}

func (s *BaseSession) UpdateLastActivity() {
	s.LastActivity.Store(time.Now())
}

func (s *BaseSession) GetLastActivity() time.Time {
	v := s.LastActivity.Load()
	if v == nil {
		return s.CreatedAt
	}
	return v.(time.Time)
}

func (s *BaseSession) GetRequestManager() *RequestManager {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.RequestManager
}

func (s *BaseSession) Close() error {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.status = StatusTerminated
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	if s.output == nil {
		s.Logger.Debug("double close of session")
		return nil
	}
	close(s.output)
	s.isOutputAcquired = false
	s.output = nil
	return nil
}

// subscriberBuffer bounds how far one stream may fall behind the session's
// broadcast before it is dropped.
const subscriberBuffer = 64

// StreamLaggedMethod is the notification a subscriber receives as its final
// message when it cannot keep up with the broadcast and is dropped; the
// client is expected to reconnect with Last-Event-ID.
const StreamLaggedMethod = "notifications/stream/lagged"

// Subscribe attaches a new broadcast reader to this session. Every message
// the session sends from now on is delivered to the returned channel, in
// journal order, alongside every other live subscriber — subscribers observe
// the full stream, they do not compete for it. The returned cancel func
// detaches and closes the channel; the channel is also closed (after a final
// stream/lagged notice) when the subscriber falls subscriberBuffer messages
// behind, or when the session closes.
func (s *BaseSession) Subscribe() (<-chan *Message, func()) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	id := s.nextSubscriberID
	s.nextSubscriberID++
	ch := make(chan *Message, subscriberBuffer)
	if s.subscribers == nil {
		s.subscribers = make(map[uint64]chan *Message)
	}
	s.subscribers[id] = ch
	cancel := func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// publish fans msg out to every live subscriber. A subscriber whose buffer
// is full is dropped rather than allowed to block the sender: it gets a
// stream/lagged notice if there is room for one, then its channel is closed.
func (s *BaseSession) publish(msg *Message) {
	s.Mu.Lock()
	var lagged []uint64
	for id, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
			lagged = append(lagged, id)
		}
	}
	for _, id := range lagged {
		ch := s.subscribers[id]
		delete(s.subscribers, id)
		method := StreamLaggedMethod
		notice := &Message{Session: s, Timestamp: time.Now(), Method: &method}
		select {
		case ch <- notice:
		default:
			// Buffer still full: evict the oldest buffered message so the
			// notice is the last thing the subscriber reads before close.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- notice:
			default:
			}
		}
		close(ch)
	}
	s.Mu.Unlock()
	if len(lagged) > 0 {
		s.Logger.Warn("dropped lagged stream subscribers", zap.Int("count", len(lagged)))
	}
}

func (s *BaseSession) AcquireOutput() (<-chan *Message, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.isOutputAcquired || s.output == nil {
		return nil, false
	}
	s.isOutputAcquired = true
	return s.output, true
}

func (s *BaseSession) ReleaseOutput() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.isOutputAcquired = false
}

func (s *BaseSession) SetNegotiatedVersion(version string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.negotiatedVersion = version
}

func (s *BaseSession) GetNegotiatedVersion() string {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.negotiatedVersion
}

func (s *BaseSession) SendNotification(method string, params map[string]any) {
	s.Mu.RLock()
	outputChan := s.output
	s.Mu.RUnlock()
	if outputChan == nil {
		s.Logger.Debug("dropping notification, session closed", zap.String("method", method))
		return
	}

	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			s.Logger.Error("failed to marshal notification params", zap.Error(err))
			return
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}
	s.UpdateLastActivity()
	msg := &Message{Session: s, Timestamp: time.Now(), Method: &method, Params: jsonParams}
	s.journal(msg)
	s.publish(msg)
	select {
	case outputChan <- msg:
	default:
		s.Logger.Warn("output channel full, dropping notification", zap.String("method", method))
	}
}

// journal hands msg to the attached EventSink, if any, stamping its EventID.
func (s *BaseSession) journal(msg *Message) {
	s.Mu.RLock()
	sink := s.eventSink
	s.Mu.RUnlock()
	if sink == nil {
		return
	}
	msg.EventID = sink.Record(s.ID, msg)
}

func (s *BaseSession) SendRequest(method string, params interface{}, callback RequestCallback) (*schema.RequestID, error) {
	msgID := s.NextMessageID()
	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request parameters: %w", err)
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}

	msg := &Message{ID: &msgID, Method: &method, Session: s, Params: jsonParams, Timestamp: time.Now()}

	s.RequestManager.RegisterRequest(&msgID, callback)

	s.Mu.RLock()
	outputChan := s.output
	s.Mu.RUnlock()
	if outputChan == nil {
		return nil, fmt.Errorf("session closed")
	}
	s.UpdateLastActivity()
	s.journal(msg)
	s.publish(msg)
	select {
	case outputChan <- msg:
	default:
		// No collector is draining the output channel right now; the request
		// still reaches the client over any open broadcast stream, and the
		// journal covers a later replay.
		s.Logger.Warn("output channel full, request delivered via broadcast only", zap.String("method", method))
	}
	return &msgID, nil
}

func (s *BaseSession) SendRequestSync(method string, params interface{}) <-chan *Message {
	resultChan := make(chan *Message, 1)
	pendingRequests := &atomic.Int32{}

	var reader func(msg *Message)
	reader = func(msg *Message) {
		if msg.Result != nil {
			var paginated schema.PaginatedResult
			if err := json.Unmarshal(*msg.Result, &paginated); err == nil {
				if paginated.NextCursor != nil {
					pendingRequests.Add(1)
					s.SendRequest(method, &schema.PaginatedRequestParams{Cursor: paginated.NextCursor}, reader)
				}
			}
		}
		resultChan <- msg
		if pendingRequests.Add(-1) == 0 {
			close(resultChan)
		}
		msg.Processed = true
	}

	pendingRequests.Add(1)
	_, err := s.SendRequest(method, params, reader)
	if err != nil {
		resultChan <- &Message{Error: &JSONRPCError{Code: JSONRPCErrorInternal, Message: err.Error()}}
		close(resultChan)
	}
	return resultChan
}

// SendResponse sends a response message to the output channel (thread-safe).
func (s *BaseSession) SendResponse(msgId *schema.RequestID, result interface{}, err error) {
	if result == nil && err == nil {
		s.Logger.Error("SendResponse called with nil result and nil error", zap.Any("msgId", msgId))
		return
	}

	var jsonResult *json.RawMessage
	var jsonRpcError *JSONRPCError

	if err != nil {
		jsonRpcError = NewJSONRPCError(err)
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			s.Logger.Error("failed to marshal response result", zap.Error(marshalErr), zap.Any("msgId", msgId))
			jsonRpcError = &JSONRPCError{Code: JSONRPCErrorInternal, Message: fmt.Sprintf("failed to marshal result: %v", marshalErr)}
		} else {
			raw := json.RawMessage(data)
			jsonResult = &raw
		}
	}

	msg := &Message{Session: s, Timestamp: time.Now(), ID: msgId, Result: jsonResult, Error: jsonRpcError}

	s.Mu.RLock()
	outputChan := s.output
	s.Mu.RUnlock()

	if outputChan == nil {
		s.Logger.Warn("cannot send response, session closed", zap.Any("msgId", msgId))
		return
	}

	s.journal(msg)
	s.publish(msg)
	select {
	case outputChan <- msg:
		s.UpdateLastActivity()
	default:
		s.Logger.Error("failed to send response, output channel full", zap.Any("msgId", msgId))
	}
}

func (s *BaseSession) Input() *Input { return s.inputProcessor }

func (s *BaseSession) GetLogger() *zap.Logger { return s.Logger }
