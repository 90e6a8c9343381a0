package validators

import (
	"encoding/json"
	"testing"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawParams(t *testing.T, n int) *json.RawMessage {
	t.Helper()
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = 'a'
	}
	raw := json.RawMessage(append([]byte{'"'}, append(payload, '"')...))
	return &raw
}

func TestMessageSizeValidator_AllowsWithinLimit(t *testing.T) {
	v := NewMessageSizeValidator(1024)
	msg := &shared.Message{Params: rawParams(t, 10)}
	require.NoError(t, v.Validate(msg))
}

func TestMessageSizeValidator_RejectsOversizedParams(t *testing.T) {
	v := NewMessageSizeValidator(16)
	msg := &shared.Message{Params: rawParams(t, 100)}
	assert.Error(t, v.Validate(msg))
}

func TestMessageSizeValidator_NilParamsAlwaysAllowed(t *testing.T) {
	v := NewMessageSizeValidator(1)
	msg := &shared.Message{}
	assert.NoError(t, v.Validate(msg))
}

func TestMessageSizeValidator_SetMaxSizeAppliesToLaterValidation(t *testing.T) {
	v := NewMessageSizeValidator(1024)
	v.SetMaxSize(4)
	msg := &shared.Message{Params: rawParams(t, 100)}
	assert.Error(t, v.Validate(msg))
}

func TestMessageSizeValidator_RejectsOverlongID(t *testing.T) {
	v := NewMessageSizeValidator(1024)
	longID := schema.RequestIDFromString(string(make([]byte, 300)))
	msg := &shared.Message{ID: &longID}
	assert.Error(t, v.Validate(msg))
}
