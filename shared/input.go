package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"go.uber.org/zap"
)

// Input is the protocol dispatcher: it queues inbound messages, gates them
// against the session lifecycle state machine, resolves a method to its
// registered capability handler, and invokes it on its own goroutine so one
// slow or panicking handler never blocks the rest of the session's traffic.
type Input struct {
	Mu              sync.RWMutex
	input           chan *Message
	logger          *zap.Logger
	validators      []MessageValidator
	methodHandlers  sync.Map
	notFoundHandler atomic.Value
	capabilities    []ICapability

	// StrictLifecycle enforces initialization ordering: any method other than
	// initialize/notifications/initialized/ping is rejected with
	// JSONRPCErrorNotInitialized until the session reaches StatusActive.
	// Defaults to true; disable for legacy 2024-11-05 clients that never
	// send notifications/initialized.
	StrictLifecycle atomic.Bool
}

func NewInput(logger *zap.Logger) *Input {
	i := &Input{
		validators: []MessageValidator{},
		logger:     logger,
	}
	i.StrictLifecycle.Store(true)
	i.notFoundHandler.Store(func(msg *Message) (interface{}, error) {
		method := "<nil>"
		if msg.Method != nil {
			method = *msg.Method
		}
		return nil, &JSONRPCError{Code: JSONRPCErrorMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	})
	return i
}

type MessageValidator interface {
	Validate(*Message) error
}

// Put validates and enqueues a message for processing.
func (i *Input) Put(msg *Message) error {
	i.Mu.Lock()
	copyOfValidators := make([]MessageValidator, len(i.validators))
	copy(copyOfValidators, i.validators)
	i.Mu.Unlock()

	for _, validator := range copyOfValidators {
		if err := validator.Validate(msg); err != nil {
			return err
		}
	}
	msg.Session.UpdateLastActivity()

	select {
	case i.input <- msg:
		i.logger.Debug("message queued",
			zap.String("sessionID", msg.Session.GetID()),
			zap.Any("messageID", msg.ID),
			zap.Stringp("method", msg.Method),
		)
	default:
		i.logger.Error("input channel full, dropping message",
			zap.String("sessionID", msg.Session.GetID()),
			zap.Any("messageID", msg.ID),
			zap.Stringp("method", msg.Method),
		)
		if !msg.ID.IsEmpty() {
			go msg.Session.SendResponse(msg.ID, nil, errors.New("message processor busy, message dropped"))
		}
		return errors.New("input processor busy, input channel full")
	}
	return nil
}

func (i *Input) Process() {
	i.logger.Debug("input message processing loop started")
	i.input = make(chan *Message, 100)
	defer func() {
		close(i.input)
		i.input = nil
		i.logger.Info("input message processing loop stopped")
	}()
	for msg := range i.input {
		if msg.Session == nil {
			i.logger.Error("received message with nil session in processing queue")
			continue
		}
		logger := i.logger.With(zap.String("sessionID", msg.Session.GetID()))

		if msg.Method == nil && msg.ID.IsEmpty() {
			logger.Error("received invalid message (no method or id)")
			continue
		}

		go i.dispatch(logger, msg)
	}
}

func (i *Input) dispatch(logger *zap.Logger, msgToProcess *Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered during message processing", zap.Any("panic", r), zap.Any("msgId", msgToProcess.ID))
			if !msgToProcess.ID.IsEmpty() {
				msgToProcess.Session.SendResponse(msgToProcess.ID, nil, fmt.Errorf("internal server error during processing: %v", r))
			}
		}
	}()

	if msgToProcess.Method == nil {
		// Response to a request this side originated.
		if !msgToProcess.ID.IsEmpty() {
			if !msgToProcess.Session.GetRequestManager().ProcessResponse(msgToProcess) {
				logger.Warn("received response for unknown or timed-out request", zap.String("responseID", msgToProcess.ID.String()))
			}
		}
		return
	}

	method := *msgToProcess.Method

	if i.StrictLifecycle.Load() && !IsLifecycleExempt(method) && msgToProcess.Session.GetStatus() != StatusActive {
		logger.Warn("rejecting method before session is active", zap.String("method", method))
		if !msgToProcess.ID.IsEmpty() {
			msgToProcess.Session.SendResponse(msgToProcess.ID, nil, NewNotInitializedError(method))
		}
		return
	}

	handler, exists := i.GetHandler(method)
	if !exists {
		if !msgToProcess.ID.IsEmpty() {
			msgToProcess.Session.SendResponse(msgToProcess.ID, nil, &JSONRPCError{Code: JSONRPCErrorMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)})
		}
		return
	}

	response, err := handler(msgToProcess)

	if !msgToProcess.ID.IsEmpty() && !isNotificationMethod(msgToProcess.Method) {
		msgToProcess.Session.SendResponse(msgToProcess.ID, response, err)
	} else if err != nil {
		logger.Error("error handling notification", zap.String("method", method), zap.Error(err))
	}
}

func isNotificationMethod(method *string) bool {
	return method != nil && strings.HasPrefix(*method, "notifications/")
}

// AddNotFoundHandle registers a handler for methods with no specific registration.
func (i *Input) AddNotFoundHandle(handler func(*Message) (interface{}, error)) {
	i.notFoundHandler.Store(handler)
}

// GetHandler retrieves a handler for a specific method.
func (i *Input) GetHandler(method string) (func(*Message) (interface{}, error), bool) {
	handler, exists := i.methodHandlers.Load(method)
	if !exists {
		notFoundFunc := i.notFoundHandler.Load()
		if notFoundFuncTyped, ok := notFoundFunc.(func(*Message) (interface{}, error)); ok {
			return notFoundFuncTyped, true
		}
		return nil, false
	}
	return handler.(func(*Message) (interface{}, error)), true
}

func (i *Input) AddValidator(validators ...MessageValidator) {
	i.Mu.Lock()
	defer i.Mu.Unlock()
	i.validators = append(i.validators, validators...)
}

func (i *Input) AddServerCapability(capabilities ...IServerCapability) {
	for _, capability := range capabilities {
		i.addCapability(capability.(ICapability))
	}
}

func (i *Input) AddClientCapability(capabilities ...IClientCapability) {
	for _, capability := range capabilities {
		i.addCapability(capability.(ICapability))
	}
}

func (i *Input) addCapability(capability ICapability) {
	i.Mu.Lock()
	i.capabilities = append(i.capabilities, capability)
	i.Mu.Unlock()
	for method, handler := range capability.GetHandlers() {
		i.methodHandlers.Store(method, handler)
		i.logger.Debug("registered handler from capability",
			zap.String("capability", fmt.Sprintf("%T", capability)),
			zap.String("method", method))
	}
}

// SetCapabilities pushes the negotiated ClientCapabilities/ServerCapabilities
// down into every registered capability so each can decide whether it is
// actually active for this session (e.g. a ToolsCapability might disable
// itself if the client never advertised tool support).
func (i *Input) SetCapabilities(clientOrServerCapabilities any) {
	i.Mu.RLock()
	capabilities := make([]ICapability, len(i.capabilities))
	copy(capabilities, i.capabilities)
	i.Mu.RUnlock()

	switch caps := clientOrServerCapabilities.(type) {
	case *schema.ClientCapabilities:
		for _, capability := range capabilities {
			if c, ok := capability.(IClientCapability); ok {
				c.SetCapabilities(caps)
			}
		}
	case *schema.ServerCapabilities:
		for _, capability := range capabilities {
			if c, ok := capability.(IServerCapability); ok {
				c.SetCapabilities(caps)
			}
		}
	default:
		i.logger.Error("clientOrServerCapabilities must be *ClientCapabilities or *ServerCapabilities",
			zap.String("argument", fmt.Sprintf("%T", clientOrServerCapabilities)))
	}
}
