package validators

import (
	"testing"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestMethodValidator_AcceptsKnownMethods(t *testing.T) {
	v := NewMethodValidator()
	for _, method := range []string{"initialize", "tools/call", "tasks/result", "notifications/initialized"} {
		msg := &shared.Message{Method: strPtr(method)}
		assert.NoError(t, v.Validate(msg), "method %s should be valid", method)
	}
}

func TestMethodValidator_RejectsUnknownMethod(t *testing.T) {
	v := NewMethodValidator()
	msg := &shared.Message{Method: strPtr("definitely/not/a/method")}
	assert.Error(t, v.Validate(msg))
}

func TestMethodValidator_ResponseWithIDAndNoMethodIsValid(t *testing.T) {
	v := NewMethodValidator()
	id := schema.RequestIDFromUInt64(1)
	msg := &shared.Message{ID: &id}
	assert.NoError(t, v.Validate(msg))
}

func TestMethodValidator_NeitherMethodNorIDIsInvalid(t *testing.T) {
	v := NewMethodValidator()
	msg := &shared.Message{}
	assert.Error(t, v.Validate(msg))
}
