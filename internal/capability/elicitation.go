package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// ElicitationRequester sends elicitation/create to the connected client and
// waits for its answer. This is the server -> client half of the
// InputRequired bridge: a task.WorkFunc's Input.RequestInput calls through to
// this (via a task.Input implementation built on top of it) whenever it
// needs a structured answer mid tool-call rather than a free-text prompt.
// Grounded on SamplingRequester's outbound-request shape, generalized from
// "ask for a message" to "ask for a schema-validated answer."
type ElicitationRequester struct {
	logger *zap.Logger
}

func NewElicitationRequester(logger *zap.Logger) *ElicitationRequester {
	return &ElicitationRequester{logger: logger}
}

func (er *ElicitationRequester) RequestElicitation(ctx context.Context, sess shared.ISession, params schema.ElicitationRequestParams) (*schema.ElicitationResult, error) {
	replies := sess.SendRequestSync("elicitation/create", params)
	select {
	case msg, ok := <-replies:
		if !ok || msg == nil {
			return nil, fmt.Errorf("elicitation/create: session closed before a reply arrived")
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("elicitation/create: %w", msg.Error)
		}
		if msg.Result == nil {
			return nil, fmt.Errorf("elicitation/create: empty result")
		}
		var result schema.ElicitationResult
		if err := json.Unmarshal(*msg.Result, &result); err != nil {
			return nil, fmt.Errorf("decode elicitation/create result: %w", err)
		}
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TaskInputBridge adapts ElicitationRequester into the task.Input interface a
// WorkFunc receives, translating a bare text prompt into an elicitation/create
// round-trip against the task's owning session.
type TaskInputBridge struct {
	Requester *ElicitationRequester
	Session   shared.ISession
}

func (b *TaskInputBridge) RequestInput(ctx context.Context, prompt string) (json.RawMessage, error) {
	result, err := b.Requester.RequestElicitation(ctx, b.Session, schema.ElicitationRequestParams{Message: prompt})
	if err != nil {
		return nil, err
	}
	if result.Action != "accept" {
		return nil, fmt.Errorf("elicitation %s by client", result.Action)
	}
	return result.Content, nil
}
