// Package client is the mirror-image MCP consumer: it dials the same
// Streamable HTTP transport the server package exposes and drives the same
// session lifecycle state machine from the other side, against the single
// /mcp endpoint rather than the legacy two-endpoint (SSE-discovers-POST)
// model.
package client

import (
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// Backend identifies one remote MCP server reachable at a single Streamable
// HTTP endpoint.
type Backend struct {
	Slug   string
	URL    *url.URL
	Logger *zap.Logger
}

// NewBackend parses mcpURL (e.g. "https://example.com/mcp") and returns a
// Backend new sessions can be opened against.
func NewBackend(slug string, mcpURL string, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(mcpURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MCP endpoint %s: %w", mcpURL, err)
	}
	logger = logger.With(zap.String("backendSlug", slug), zap.String("backendURL", u.String()))
	return &Backend{Slug: slug, URL: u, Logger: logger}, nil
}
