package capability

import (
	"strings"
	"sync"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"

	"go.uber.org/zap"
)

var _ shared.IServerCapability = (*RootsCapability)(nil)

// RootsCapability owns the server's registry of root URI prefixes (the
// redesign: roots are a server-owned registry rather than a client-advertised
// list) and the path-boundary check other capabilities (notably Resources)
// consult before serving a client-supplied path. Grounded on
// CompletionCapability's mutex-guarded map-of-handlers shape, generalized
// from "one entry per name" to "one entry per root prefix."
type RootsCapability struct {
	logger *zap.Logger
	mu     sync.RWMutex
	roots  []schema.Root
}

func NewRootsCapability(logger *zap.Logger) *RootsCapability {
	return &RootsCapability{logger: logger}
}

func (rc *RootsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"roots/list": rc.handleList,
	}
}

func (rc *RootsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if len(rc.roots) == 0 {
		return
	}
	s.Roots = &schema.Capability{ListChanged: true}
}

// AddRoot registers a root the server is willing to operate under.
func (rc *RootsCapability) AddRoot(uri, name string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.roots = append(rc.roots, schema.Root{URI: uri, Name: name})
	rc.logger.Info("registered root", zap.String("uri", uri))
}

func (rc *RootsCapability) handleList(msg *shared.Message) (interface{}, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	roots := make([]schema.Root, len(rc.roots))
	copy(roots, rc.roots)
	return schema.ListRootsResult{Roots: roots}, nil
}

// ValidatePath reports whether uri falls under one of the registered roots,
// rejecting path-traversal attempts even when the
// uri textually starts with a registered prefix (e.g. "file:///data/../etc").
// An empty registry means no boundary is enforced.
func (rc *RootsCapability) ValidatePath(uri string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if len(rc.roots) == 0 {
		return true
	}
	if strings.Contains(uri, "..") {
		return false
	}
	for _, root := range rc.roots {
		if strings.HasPrefix(uri, root.URI) {
			return true
		}
	}
	return false
}
