package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"
)

type Message struct {
	ID        *schema.RequestID `json:"id,omitempty"`
	Timestamp time.Time         `json:"-"`
	Method    *string           `json:"method,omitempty"`
	Params    *json.RawMessage  `json:"params,omitempty"`
	Result    *json.RawMessage  `json:"result,omitempty"`
	Error     *JSONRPCError     `json:"error,omitempty"`

	Processed bool     `json:"-"`
	Session   ISession `json:"-"`

	// EventID is the journal sequence number assigned by an EventSink, used
	// by the Streamable HTTP transport to frame `id: N` on an SSE event and
	// by GET replay to resume after Last-Event-ID. Zero for messages that
	// were never journaled (e.g. a session with no SSE sink attached).
	EventID uint64 `json:"-"`
}

func ParseMessages(s ISession, data []byte) ([]*Message, error) {
	var messages []*Message
	err := json.Unmarshal(data, &messages)
	if err == nil {
		for _, msg := range messages {
			if msg != nil {
				msg.Session = s
			}
		}
		return messages, nil
	}

	var singleMessage Message
	err = json.Unmarshal(data, &singleMessage)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message (neither batch nor single): %w", err)
	}
	singleMessage.Session = s
	return []*Message{&singleMessage}, nil
}

// NilIfNil returns "nil" if the string pointer is nil, otherwise the pointed-to string.
func NilIfNil(s *string) string {
	if s == nil {
		return "nil"
	}
	return *s
}

// MarshalJSON ensures the JSONRPC field is properly set before marshaling.
func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Error != nil {
		return json.Marshal(JSONRPCErrorResponse{JSONRPC: JSONRPCVersion, ID: m.ID, Error: m.Error})
	}
	if m.Result != nil {
		return json.Marshal(JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: m.ID, Result: m.Result})
	}
	return json.Marshal(JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: m.ID, Method: m.Method, Params: m.Params})
}
