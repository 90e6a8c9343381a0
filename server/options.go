package server

import (
	"github.com/gate4ai/mcpcore/internal/capability"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
)

// WithMCPTool registers a synchronous tool, creating the ToolsCapability on
// first use.
func WithMCPTool(def schema.Tool, handler capability.ToolHandler) ServerOption {
	return func(b *ServerBuilder) error {
		tc, err := b.EnsureToolsCapability()
		if err != nil {
			return err
		}
		return tc.AddTool(def, handler)
	}
}

// WithMCPTaskTool registers a tool whose handler runs under the task runtime
// runtime: it may report progress, move Working -> InputRequired, and
// return asynchronously via tasks/get and tasks/result rather than answering
// tools/call directly. Ensures the task runtime exists before the tool is
// added, so the capability advertisement reflects the runtime's
// presence as soon as any task tool is registered.
func WithMCPTaskTool(def schema.Tool, handler capability.TaskToolHandler) ServerOption {
	return func(b *ServerBuilder) error {
		if _, err := b.EnsureTaskRuntime(nil); err != nil {
			return err
		}
		tc, err := b.EnsureToolsCapability()
		if err != nil {
			return err
		}
		return tc.AddTaskTool(def, handler)
	}
}

// WithMCPPrompt registers a static prompt, creating the PromptsCapability on
// first use.
func WithMCPPrompt(name, description string, handler capability.PromptHandler) ServerOption {
	return func(b *ServerBuilder) error {
		pc, err := b.EnsurePromptsCapability()
		if err != nil {
			return err
		}
		return pc.AddPrompt(name, description, handler)
	}
}

// WithMCPPromptTemplate registers a prompt that accepts arguments.
func WithMCPPromptTemplate(name, description string, arguments []schema.PromptArgument, handler capability.PromptHandler) ServerOption {
	return func(b *ServerBuilder) error {
		pc, err := b.EnsurePromptsCapability()
		if err != nil {
			return err
		}
		return pc.AddTemplate(name, description, arguments, handler)
	}
}

// WithMCPResource registers a static resource, creating the
// ResourcesCapability on first use.
func WithMCPResource(uri, name, description, mimeType string, handler capability.ResourceHandler) ServerOption {
	return func(b *ServerBuilder) error {
		rc, err := b.EnsureResourcesCapability()
		if err != nil {
			return err
		}
		return rc.AddResource(uri, name, description, mimeType, handler)
	}
}

// WithMCPResourceTemplate registers a URI-templated resource.
func WithMCPResourceTemplate(uriTemplate, name, description, mimeType string, handler capability.ResourceHandler) ServerOption {
	return func(b *ServerBuilder) error {
		rc, err := b.EnsureResourcesCapability()
		if err != nil {
			return err
		}
		return rc.AddResourceTemplate(uriTemplate, name, description, mimeType, handler)
	}
}

// WithMCPSubscriptionHandler registers a callback invoked whenever a client
// subscribes to or unsubscribes from a resource.
func WithMCPSubscriptionHandler(handler capability.SubscriptionHandler) ServerOption {
	return func(b *ServerBuilder) error {
		rc, err := b.EnsureResourcesCapability()
		if err != nil {
			return err
		}
		rc.AddSubscriptionHandler(handler)
		return nil
	}
}

// WithMCPPromptCompleter registers argument-completion for a prompt,
// creating the CompletionCapability on first use.
func WithMCPPromptCompleter(promptName string, handler capability.CompletionHandler) ServerOption {
	return func(b *ServerBuilder) error {
		cc, err := b.EnsureCompletionCapability()
		if err != nil {
			return err
		}
		cc.AddPromptCompleter(promptName, handler)
		return nil
	}
}

// WithMCPResourceCompleter registers argument-completion for a resource
// template, creating the CompletionCapability on first use.
func WithMCPResourceCompleter(resourceURI string, handler capability.CompletionHandler) ServerOption {
	return func(b *ServerBuilder) error {
		cc, err := b.EnsureCompletionCapability()
		if err != nil {
			return err
		}
		cc.AddResourceCompleter(resourceURI, handler)
		return nil
	}
}

// WithMCPRoot registers a root the server operates under (the server-owned
// roots registry), creating the RootsCapability on first use.
func WithMCPRoot(uri, name string) ServerOption {
	return func(b *ServerBuilder) error {
		rc, err := b.EnsureRootsCapability()
		if err != nil {
			return err
		}
		rc.AddRoot(uri, name)
		return nil
	}
}

// WithMCPLogging turns on logging/setLevel and notifications/message support.
func WithMCPLogging() ServerOption {
	return func(b *ServerBuilder) error {
		_, err := b.EnsureLoggingCapability()
		return err
	}
}

// WithListenAddr overrides the listen address the config would otherwise
// supply.
func WithListenAddr(addr string) ServerOption {
	return func(b *ServerBuilder) error {
		b.listenAddr = addr
		return nil
	}
}
