package capability

import (
	"encoding/json"
	"testing"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func callParams(t *testing.T, name string, args schema.Arguments) *json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(schema.CallToolRequestParams{Name: name, Arguments: args})
	require.NoError(t, err)
	rm := json.RawMessage(raw)
	return &rm
}

func callToolResult(t *testing.T, out interface{}) schema.CallToolResult {
	t.Helper()
	result, ok := out.(schema.CallToolResult)
	require.True(t, ok)
	return result
}

func TestToolsCall_ScalarReturnIsWrappedAndMirrored(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	def := schema.Tool{
		Name:         "add",
		OutputSchema: &schema.JSONSchemaProperty{Type: "number"},
	}
	require.NoError(t, tc.AddTool(def, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, nil, json.RawMessage(`5`), nil
	}))

	out, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "add", schema.Arguments{})})
	require.NoError(t, err)
	result := callToolResult(t, out)

	require.Len(t, result.Content, 1)
	assert.Equal(t, "5", *result.Content[0].Text)
	assert.JSONEq(t, `{"result":5}`, string(result.StructuredContent))
}

func TestToolsCall_OutputFieldOverridesWrapKey(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	def := schema.Tool{
		Name:         "count",
		OutputSchema: &schema.JSONSchemaProperty{Type: "number"},
		OutputField:  "count",
	}
	require.NoError(t, tc.AddTool(def, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, nil, json.RawMessage(`42`), nil
	}))

	out, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "count", schema.Arguments{})})
	require.NoError(t, err)
	result := callToolResult(t, out)
	assert.JSONEq(t, `{"count":42}`, string(result.StructuredContent))
}

func TestToolsCall_ObjectReturnIsNotWrapped(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	def := schema.Tool{
		Name: "stats",
		OutputSchema: &schema.JSONSchemaProperty{
			Type:       "object",
			Properties: map[string]schema.JSONSchemaProperty{"sum": {Type: "number"}},
		},
	}
	require.NoError(t, tc.AddTool(def, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, nil, json.RawMessage(`{"sum": 5}`), nil
	}))

	out, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "stats", schema.Arguments{})})
	require.NoError(t, err)
	result := callToolResult(t, out)
	assert.JSONEq(t, `{"sum":5}`, string(result.StructuredContent))
	require.Len(t, result.Content, 1)
	assert.JSONEq(t, `{"sum":5}`, *result.Content[0].Text)
}

func TestToolsCall_NoOutputSchemaEmitsContentOnly(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	require.NoError(t, tc.AddTool(schema.Tool{Name: "greet"}, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, schema.NewTextContent("hello"), json.RawMessage(`"hello"`), nil
	}))

	out, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "greet", schema.Arguments{})})
	require.NoError(t, err)
	result := callToolResult(t, out)
	assert.Nil(t, result.StructuredContent)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", *result.Content[0].Text)
}

func TestToolsCall_OutputSchemaViolationIsLoggedNotRejected(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	def := schema.Tool{
		Name:         "flaky",
		OutputSchema: &schema.JSONSchemaProperty{Type: "number"},
	}
	require.NoError(t, tc.AddTool(def, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, nil, json.RawMessage(`"not a number"`), nil
	}))

	out, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "flaky", schema.Arguments{})})
	require.NoError(t, err)
	result := callToolResult(t, out)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"result":"not a number"}`, string(result.StructuredContent))
}

func TestToolsCall_UnknownToolReturnsInvalidParams(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	_, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "missing", schema.Arguments{})})
	require.Error(t, err)
	jerr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, shared.JSONRPCErrorInvalidParams, jerr.Code)
}

func TestToolsCall_ArgumentsFailingInputSchemaAreRejected(t *testing.T) {
	manager, sess := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	def := schema.Tool{
		Name: "typed",
		InputSchema: &schema.JSONSchemaProperty{
			Type:       "object",
			Properties: map[string]schema.JSONSchemaProperty{"n": {Type: "number"}},
			Required:   []string{"n"},
		},
	}
	require.NoError(t, tc.AddTool(def, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, schema.NewTextContent("ok"), nil, nil
	}))

	_, err := tc.handleToolsCall(&shared.Message{Session: sess, Params: callParams(t, "typed", schema.Arguments{"n": "NaN"})})
	require.Error(t, err)
	jerr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, shared.JSONRPCErrorInvalidParams, jerr.Code)
}

func TestAddTool_TaskSupportWithoutRuntimeIsRejected(t *testing.T) {
	manager, _ := newTestManagerAndSession(t)
	tc := NewToolsCapability(manager, nil, zap.NewNop())

	def := schema.Tool{
		Name:      "bg",
		Execution: &schema.ToolExecution{TaskSupport: schema.TaskSupportRequired},
	}
	err := tc.AddTool(def, func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, json.RawMessage, error) {
		return nil, nil, nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task runtime")
}
