package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// ListTools fetches every page of tools/list, draining SendRequestSync's
// automatic cursor-following (BaseSession.SendRequestSync already resends
// the request with the next cursor for us).
func (s *Session) ListTools() ([]schema.Tool, error) {
	logger := s.Logger.With(zap.String("operation", "ListTools"))
	var tools []schema.Tool

	for msg := range s.SendRequestSync("tools/list", &schema.ListToolsRequestParams{}) {
		if msg == nil {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("tools/list: %w", msg.Error)
		}
		if msg.Result == nil {
			continue
		}
		var page schema.ListToolsResult
		if err := json.Unmarshal(*msg.Result, &page); err != nil {
			logger.Error("failed to unmarshal tools/list page", zap.Error(err))
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		tools = append(tools, page.Tools...)
	}
	return tools, nil
}

// CallTool invokes name with arguments and returns the server's result.
func (s *Session) CallTool(name string, arguments schema.Arguments) (*schema.CallToolResult, error) {
	if name == "" {
		return nil, errors.New("tool name cannot be empty")
	}
	params := &schema.CallToolRequestParams{Name: name, Arguments: arguments}

	msg, ok := <-s.SendRequestSync("tools/call", params)
	if !ok || msg == nil {
		return nil, fmt.Errorf("tools/call %q: session closed before a reply arrived", name)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("tools/call %q: %w", name, msg.Error)
	}
	if msg.Result == nil {
		return nil, fmt.Errorf("tools/call %q: empty result", name)
	}
	var result schema.CallToolResult
	if err := json.Unmarshal(*msg.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call %q result: %w", name, err)
	}
	return &result, nil
}
