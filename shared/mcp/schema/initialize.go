package schema

import "encoding/json"

// Implementation describes the name and version of an MCP implementation
// (either the client or the server).
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capability is the generic "this feature is present" marker, optionally
// advertising listChanged notifications.
type Capability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// CapabilityWithSubscribe extends Capability with per-resource subscribe support.
type CapabilityWithSubscribe struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// ClientCapabilities describes what a connecting client supports.
type ClientCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Roots        *Capability                `json:"roots,omitempty"`
	Sampling     *struct{}                  `json:"sampling,omitempty"`
	Elicitation  *struct{}                  `json:"elicitation,omitempty"`
}

// ServerCapabilities describes what this server advertises. Every non-nil
// field here MUST correspond to at least one registered handler — the
// BaseCapability initialize handler fills this struct via Input.SetCapabilities
// from the registered capabilities rather than from static configuration.
type ServerCapabilities struct {
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
	Logging      *struct{}                  `json:"logging,omitempty"`
	Completions  *struct{}                  `json:"completions,omitempty"`
	Prompts      *Capability                `json:"prompts,omitempty"`
	Resources    *CapabilityWithSubscribe   `json:"resources,omitempty"`
	Tools        *Capability                `json:"tools,omitempty"`
	Tasks        *Capability                `json:"tasks,omitempty"`
	Roots        *Capability                `json:"roots,omitempty"`
	Elicitation  *struct{}                  `json:"elicitation,omitempty"`
}

// InitializeRequestParams carries the client's opening handshake.
type InitializeRequestParams struct {
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
	ProtocolVersion string             `json:"protocolVersion"`
}

type InitializeRequest struct {
	Method string                  `json:"method"`
	Params InitializeRequestParams `json:"params"`
}

type InitializeResult struct {
	Meta            Meta               `json:"_meta,omitempty"`
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// InitializedNotification is sent client -> server once initialization is done.
type InitializedNotification struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// PingRequest may be sent by either party.
type PingRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ModelHint/ModelPreferences steer server-requested LLM sampling.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

type ModelPreferences struct {
	CostPriority         *float64    `json:"costPriority,omitempty"`
	Hints                []ModelHint `json:"hints,omitempty"`
	IntelligencePriority *float64    `json:"intelligencePriority,omitempty"`
	SpeedPriority        *float64    `json:"speedPriority,omitempty"`
}
