package shared

import (
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
)

const (
	JSONRPCVersion = "2.0"

	// Standard JSON-RPC 2.0 error codes.
	JSONRPCErrorParseError     = -32700 // Invalid JSON was received
	JSONRPCErrorInvalidRequest = -32600 // The JSON sent is not a valid Request object
	JSONRPCErrorMethodNotFound = -32601 // The method does not exist / is not available
	JSONRPCErrorInvalidParams  = -32602 // Invalid method parameter(s)
	JSONRPCErrorInternal       = -32603 // Internal JSON-RPC error

	// -32000 to -32099 are reserved for implementation-defined server errors.
	JSONRPCErrorServerError  = -32000 // Generic server error
	JSONRPCErrorUnauthorized = -32001 // Unauthorized

	// MCP lifecycle errors. This framework fixes -32031/-32032/-32033 for
	// the lifecycle conditions MCP leaves without assigned codes.
	JSONRPCErrorNotInitialized     = -32031 // Request sent before initialize completed (strict lifecycle mode)
	JSONRPCErrorAlreadyInitialized = -32032 // initialize sent twice on the same session
	JSONRPCErrorSessionExpired     = -32033 // Session terminated, expired, or not found
)

type JSONRPCErrorResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *schema.RequestID `json:"id,omitempty"`
	Error   *JSONRPCError     `json:"error"`
}

// JSONRPCResponse represents the structure for sending successful JSON-RPC responses.
type JSONRPCResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *schema.RequestID `json:"id"` // Must be present and same as request ID
	Result  *json.RawMessage  `json:"result"`
}

type JSONRPCMessage struct {
	JSONRPC string            `json:"jsonrpc"` // Must be "2.0"
	ID      *schema.RequestID `json:"id,omitempty"`
	Method  *string           `json:"method,omitempty"`
	Params  *json.RawMessage  `json:"params,omitempty"`
	Error   *JSONRPCError     `json:"error,omitempty"`
}

type JSONRPCNotification struct {
	JSONRPC string           `json:"jsonrpc"` // Must be "2.0"
	Method  *string          `json:"method"`
	Params  *json.RawMessage `json:"params,omitempty"`
}

type JSONRPCRequest struct {
	JSONRPC string           `json:"jsonrpc"` // Must be "2.0"
	ID      schema.RequestID `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  map[string]any   `json:"params,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func NewJSONRPCError(err error) *JSONRPCError {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(*JSONRPCError); ok {
		return rpcErr
	}
	return &JSONRPCError{
		Code:    JSONRPCErrorInternal,
		Message: err.Error(),
	}
}

// IsRetryable reports whether the caller may retry the request that produced
// this error. Implementation-defined server errors (-32099..-32000, which
// transport failures and timeouts are mapped into) are transient; protocol,
// session, and params errors are not.
func (e *JSONRPCError) IsRetryable() bool {
	if e == nil {
		return false
	}
	if e.Code >= JSONRPCErrorSessionExpired && e.Code <= JSONRPCErrorNotInitialized {
		return false
	}
	return e.Code >= -32099 && e.Code <= -32000
}

// NewTransportError wraps a connection or framing failure in the retryable
// server-error band.
func NewTransportError(err error) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorServerError,
		Message: err.Error(),
	}
}

func NewNotInitializedError(method string) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorNotInitialized,
		Message: fmt.Sprintf("session is not initialized: method %q requires a completed initialize handshake", method),
	}
}

func NewAlreadyInitializedError() *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorAlreadyInitialized,
		Message: "session already initialized",
	}
}

func NewSessionExpiredError(sessionID string) *JSONRPCError {
	return &JSONRPCError{
		Code:    JSONRPCErrorSessionExpired,
		Message: fmt.Sprintf("session %q expired or was not found", sessionID),
	}
}
