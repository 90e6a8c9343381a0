package client

import (
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

// ListResources fetches every page of resources/list.
func (s *Session) ListResources() ([]schema.Resource, error) {
	logger := s.Logger.With(zap.String("operation", "ListResources"))
	var resources []schema.Resource

	for msg := range s.SendRequestSync("resources/list", &schema.ListResourcesRequestParams{}) {
		if msg == nil {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("resources/list: %w", msg.Error)
		}
		if msg.Result == nil {
			continue
		}
		var page schema.ListResourcesResult
		if err := json.Unmarshal(*msg.Result, &page); err != nil {
			logger.Error("failed to unmarshal resources/list page", zap.Error(err))
			return nil, fmt.Errorf("decode resources/list result: %w", err)
		}
		resources = append(resources, page.Resources...)
	}
	return resources, nil
}

// ReadResource fetches the contents of uri.
func (s *Session) ReadResource(uri string) (*schema.ReadResourceResult, error) {
	params := &schema.ReadResourceRequestParams{URI: uri}

	msg, ok := <-s.SendRequestSync("resources/read", params)
	if !ok || msg == nil {
		return nil, fmt.Errorf("resources/read %q: session closed before a reply arrived", uri)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("resources/read %q: %w", uri, msg.Error)
	}
	if msg.Result == nil {
		return nil, fmt.Errorf("resources/read %q: empty result", uri)
	}
	var result schema.ReadResourceResult
	if err := json.Unmarshal(*msg.Result, &result); err != nil {
		return nil, fmt.Errorf("decode resources/read %q result: %w", uri, err)
	}
	return &result, nil
}

// ListResourceTemplates fetches every page of resources/templates/list.
func (s *Session) ListResourceTemplates() ([]schema.ResourceTemplate, error) {
	logger := s.Logger.With(zap.String("operation", "ListResourceTemplates"))
	var templates []schema.ResourceTemplate

	for msg := range s.SendRequestSync("resources/templates/list", &schema.ListResourceTemplatesRequestParams{}) {
		if msg == nil {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("resources/templates/list: %w", msg.Error)
		}
		if msg.Result == nil {
			continue
		}
		var page schema.ListResourceTemplatesResult
		if err := json.Unmarshal(*msg.Result, &page); err != nil {
			logger.Error("failed to unmarshal resources/templates/list page", zap.Error(err))
			return nil, fmt.Errorf("decode resources/templates/list result: %w", err)
		}
		templates = append(templates, page.ResourceTemplates...)
	}
	return templates, nil
}
