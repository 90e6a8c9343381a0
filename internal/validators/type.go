package validators

import (
	"fmt"
	"sync"

	"github.com/gate4ai/mcpcore/shared"
)

// MethodValidator rejects any message whose method is not part of this
// server's MCP method surface, before it ever reaches Input's dispatch loop.
type MethodValidator struct {
	validMethods map[string]bool
	mu           sync.RWMutex
}

func NewMethodValidator() *MethodValidator {
	v := &MethodValidator{
		validMethods: map[string]bool{
			"initialize":                true,
			"ping":                      true,
			"tools/list":                true,
			"tools/call":                true,
			"prompts/list":              true,
			"prompts/get":               true,
			"resources/list":            true,
			"resources/templates/list":  true,
			"resources/read":            true,
			"resources/subscribe":       true,
			"resources/unsubscribe":     true,
			"completion/complete":       true,
			"logging/setLevel":          true,
			"roots/list":                true,
			"sampling/createMessage":    true,
			"elicitation/create":        true,

			"tasks/list":          true,
			"tasks/get":           true,
			"tasks/result":        true,
			"tasks/cancel":        true,
			"tasks/provideInput":  true,

			"notifications/initialized":        true,
			"notifications/ping":               true,
			"notifications/cancelled":          true,
			"notifications/progress":           true,
			"notifications/roots/list_changed": true,
		},
	}
	return v
}

func (v *MethodValidator) Validate(msg *shared.Message) error {
	if msg.Method != nil {
		v.mu.RLock()
		valid := v.validMethods[*msg.Method]
		v.mu.RUnlock()
		if !valid {
			return fmt.Errorf("invalid method: %s", *msg.Method)
		}
		return nil
	}
	if msg.ID.IsEmpty() {
		return fmt.Errorf("message has neither method nor id")
	}
	return nil
}
