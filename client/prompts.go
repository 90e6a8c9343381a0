package client

import (
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// ListPrompts fetches every page of prompts/list.
func (s *Session) ListPrompts() ([]schema.Prompt, error) {
	logger := s.Logger.With(zap.String("operation", "ListPrompts"))
	var prompts []schema.Prompt

	for msg := range s.SendRequestSync("prompts/list", &schema.ListPromptsRequestParams{}) {
		if msg == nil {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("prompts/list: %w", msg.Error)
		}
		if msg.Result == nil {
			continue
		}
		var page schema.ListPromptsResult
		if err := json.Unmarshal(*msg.Result, &page); err != nil {
			logger.Error("failed to unmarshal prompts/list page", zap.Error(err))
			return nil, fmt.Errorf("decode prompts/list result: %w", err)
		}
		prompts = append(prompts, page.Prompts...)
	}
	return prompts, nil
}

// GetPrompt renders the prompt named name with arguments substituted in.
func (s *Session) GetPrompt(name string, arguments map[string]string) (*schema.GetPromptResult, error) {
	params := &schema.GetPromptRequestParams{Name: name, Arguments: arguments}

	msg, ok := <-s.SendRequestSync("prompts/get", params)
	if !ok || msg == nil {
		return nil, fmt.Errorf("prompts/get %q: session closed before a reply arrived", name)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("prompts/get %q: %w", name, msg.Error)
	}
	if msg.Result == nil {
		return nil, fmt.Errorf("prompts/get %q: empty result", name)
	}
	var result schema.GetPromptResult
	if err := json.Unmarshal(*msg.Result, &result); err != nil {
		return nil, fmt.Errorf("decode prompts/get %q result: %w", name, err)
	}
	return &result, nil
}
