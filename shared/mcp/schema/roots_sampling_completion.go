package schema

import "encoding/json"

// Root is one directory/file prefix a server may operate on.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

type RootsListChangedNotification struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type ListRootsRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type ListRootsResult struct {
	Meta  Meta   `json:"_meta,omitempty"`
	Roots []Root `json:"roots"`
}

// SamplingMessage/CreateMessageRequest implement server -> client LLM sampling.
type SamplingMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

type CreateMessageRequestParams struct {
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	IncludeContext   string            `json:"includeContext,omitempty"`
	Temperature      *float64          `json:"temperature,omitempty"`
	MaxTokens        int               `json:"maxTokens"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
	Metadata         interface{}       `json:"metadata,omitempty"`
}

type CreateMessageRequest struct {
	Method string                     `json:"method"`
	Params CreateMessageRequestParams `json:"params"`
}

type CreateMessageResult struct {
	Meta       Meta    `json:"_meta,omitempty"`
	Role       Role    `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model"`
	StopReason string  `json:"stopReason,omitempty"`
}

// ElicitationRequestParams asks the client for additional structured input
// mid tool-call; this is the server -> client half of the InputRequired task
// status, an explicit method for a flow MCP leaves without a standard one.
type ElicitationRequestParams struct {
	Message         string              `json:"message"`
	RequestedSchema *JSONSchemaProperty `json:"requestedSchema,omitempty"`
}

type ElicitationRequest struct {
	Method string                    `json:"method"`
	Params ElicitationRequestParams `json:"params"`
}

// ElicitationResult is the client's answer: accept/decline/cancel plus the
// structured content when accepted.
type ElicitationResult struct {
	Meta    Meta            `json:"_meta,omitempty"`
	Action  string          `json:"action"` // "accept" | "decline" | "cancel"
	Content json.RawMessage `json:"content,omitempty"`
}

// CompleteRequest/Result implement completion/complete.
type CompleteArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CompletionRequestParams struct {
	Argument CompleteArgument `json:"argument"`
	Ref      json.RawMessage  `json:"ref"`
}

type CompleteRequest struct {
	Method string                  `json:"method"`
	Params CompletionRequestParams `json:"params"`
}

type CompletionInfo struct {
	HasMore *bool    `json:"hasMore,omitempty"`
	Total   *int     `json:"total,omitempty"`
	Values  []string `json:"values"`
}

type CompleteResult struct {
	Meta       Meta           `json:"_meta,omitempty"`
	Completion CompletionInfo `json:"completion"`
}
