package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// SamplingRequester lets a tool or task handler ask the connected client to
// run an LLM sampling request (sampling/createMessage is server -> client).
// It is not an ICapability itself: nothing answers sampling/createMessage on
// the server side, since the server is the one issuing it.
type SamplingRequester struct {
	logger *zap.Logger
}

func NewSamplingRequester(logger *zap.Logger) *SamplingRequester {
	return &SamplingRequester{logger: logger}
}

// RequestSampling sends sampling/createMessage to sess and waits for its
// answer, failing immediately if the session never advertised sampling
// support during initialize.
func (sr *SamplingRequester) RequestSampling(ctx context.Context, sess shared.ISession, params schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
	if downstream, ok := sess.(*session.Session); ok {
		caps := downstream.GetClientCapabilities()
		if caps == nil || caps.Sampling == nil {
			return nil, fmt.Errorf("client session %s did not advertise sampling support", sess.GetID())
		}
	}

	replies := sess.SendRequestSync("sampling/createMessage", params)
	select {
	case msg, ok := <-replies:
		if !ok || msg == nil {
			return nil, fmt.Errorf("sampling/createMessage: session closed before a reply arrived")
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("sampling/createMessage: %w", msg.Error)
		}
		if msg.Result == nil {
			return nil, fmt.Errorf("sampling/createMessage: empty result")
		}
		var result schema.CreateMessageResult
		if err := json.Unmarshal(*msg.Result, &result); err != nil {
			return nil, fmt.Errorf("decode sampling/createMessage result: %w", err)
		}
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
