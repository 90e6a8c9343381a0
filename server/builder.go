package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gate4ai/mcpcore/internal/capability"
	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/task"
	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/config"
	"go.uber.org/zap"
)

// ServerBuilder assembles a session manager, an optional task runtime, a set
// of capabilities, and a Streamable HTTP transport into one MCP server.
// Options (see options.go) register tools/resources/prompts against the
// lazily-created capabilities; Start (see start.go) wires everything
// together and opens the listener.
type ServerBuilder struct {
	ctx          context.Context
	logger       *zap.Logger
	cfg          config.IConfig
	listenAddr   string
	manager      session.ISessionManager
	transport    *transport.Transport
	taskRuntime  *task.Runtime
	mux          *http.ServeMux
	capabilities []shared.ICapability

	baseCap       *capability.BaseCapability
	toolsCap      *capability.ToolsCapability
	resourcesCap  *capability.ResourcesCapability
	promptsCap    *capability.PromptsCapability
	completionCap *capability.CompletionCapability
	rootsCap      *capability.RootsCapability
	loggingCap    *capability.LoggingCapability
	tasksCap      *capability.TasksCapability

	samplingRequester    *capability.SamplingRequester
	elicitationRequester *capability.ElicitationRequester

	registerMCPRoutes bool
}

// EnsureMCPBaseCapability creates the BaseCapability if it doesn't exist.
func (b *ServerBuilder) EnsureMCPBaseCapability() error {
	if b.baseCap == nil {
		b.logger.Debug("initializing BaseCapability")
		b.baseCap = capability.NewBase(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.baseCap)
		b.registerMCPRoutes = true
	}
	return nil
}

// EnsureTaskRuntime creates the task runtime (and its TasksCapability) on
// first use. Start calls this itself, before any ServerOption runs, so every
// server advertises task support by default and
// EnsureToolsCapability always captures a live runtime — ToolsCapability
// pins the *task.Runtime it's given at construction and has no way to adopt
// one created later.
func (b *ServerBuilder) EnsureTaskRuntime(storage task.Storage) (*task.Runtime, error) {
	if b.taskRuntime != nil {
		return b.taskRuntime, nil
	}
	if storage == nil {
		storage = task.NewMemoryStorage()
	}
	b.taskRuntime = task.NewRuntime(storage, b.manager, b.logger.Named("task-runtime"))
	b.tasksCap = capability.NewTasksCapability(b.taskRuntime, b.logger)
	b.capabilities = append(b.capabilities, b.tasksCap)
	return b.taskRuntime, nil
}

// EnsureToolsCapability creates the ToolsCapability if it doesn't exist. If a
// task runtime was already requested (EnsureTaskRuntime), tools registered
// afterward can use AddTaskTool; a ToolsCapability built before the runtime
// exists only serves synchronous tools until EnsureTaskRuntime runs.
func (b *ServerBuilder) EnsureToolsCapability() (*capability.ToolsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.toolsCap == nil {
		b.logger.Debug("initializing ToolsCapability")
		b.toolsCap = capability.NewToolsCapability(b.manager, b.taskRuntime, b.logger)
		b.capabilities = append(b.capabilities, b.toolsCap)
	}
	return b.toolsCap, nil
}

// EnsurePromptsCapability creates the PromptsCapability if it doesn't exist.
func (b *ServerBuilder) EnsurePromptsCapability() (*capability.PromptsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.promptsCap == nil {
		b.logger.Debug("initializing PromptsCapability")
		b.promptsCap = capability.NewPromptsCapability(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.promptsCap)
	}
	return b.promptsCap, nil
}

// EnsureResourcesCapability creates the ResourcesCapability if it doesn't exist.
func (b *ServerBuilder) EnsureResourcesCapability() (*capability.ResourcesCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.resourcesCap == nil {
		b.logger.Debug("initializing ResourcesCapability")
		b.resourcesCap = capability.NewResourcesCapability(b.manager, b.logger)
		b.capabilities = append(b.capabilities, b.resourcesCap)
	}
	return b.resourcesCap, nil
}

// EnsureCompletionCapability creates the CompletionCapability if it doesn't exist.
func (b *ServerBuilder) EnsureCompletionCapability() (*capability.CompletionCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.completionCap == nil {
		b.logger.Debug("initializing CompletionCapability")
		b.completionCap = capability.NewCompletionCapability(b.logger)
		b.capabilities = append(b.capabilities, b.completionCap)
	}
	return b.completionCap, nil
}

// EnsureRootsCapability creates the RootsCapability if it doesn't exist.
func (b *ServerBuilder) EnsureRootsCapability() (*capability.RootsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.rootsCap == nil {
		b.logger.Debug("initializing RootsCapability")
		b.rootsCap = capability.NewRootsCapability(b.logger)
		b.capabilities = append(b.capabilities, b.rootsCap)
	}
	return b.rootsCap, nil
}

// EnsureLoggingCapability creates the LoggingCapability if it doesn't exist.
func (b *ServerBuilder) EnsureLoggingCapability() (*capability.LoggingCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.loggingCap == nil {
		b.logger.Debug("initializing LoggingCapability")
		b.loggingCap = capability.NewLoggingCapability(b.manager, zap.NewAtomicLevel(), b.logger)
		b.capabilities = append(b.capabilities, b.loggingCap)
	}
	return b.loggingCap, nil
}

// SamplingRequester returns the helper tool/task handlers use to issue
// sampling/createMessage against a connected session. It has no server-side
// handlers of its own (sampling/createMessage is server -> client), so it is
// not registered as a capability.
func (b *ServerBuilder) SamplingRequester() *capability.SamplingRequester {
	if b.samplingRequester == nil {
		b.samplingRequester = capability.NewSamplingRequester(b.logger)
	}
	return b.samplingRequester
}

// ElicitationRequester mirrors SamplingRequester for elicitation/create.
func (b *ServerBuilder) ElicitationRequester() *capability.ElicitationRequester {
	if b.elicitationRequester == nil {
		b.elicitationRequester = capability.NewElicitationRequester(b.logger)
	}
	return b.elicitationRequester
}

func (b *ServerBuilder) buildStorage() (session.Storage, task.Storage, error) {
	sessionDriver, err := b.cfg.SessionStorageDriver()
	if err != nil {
		return nil, nil, fmt.Errorf("session storage driver: %w", err)
	}
	taskDriver, err := b.cfg.TaskStorageDriver()
	if err != nil {
		return nil, nil, fmt.Errorf("task storage driver: %w", err)
	}

	sessionStorage, err := newSessionStorage(b.ctx, b.cfg, sessionDriver)
	if err != nil {
		return nil, nil, err
	}
	taskStorage, err := newTaskStorage(b.ctx, b.cfg, taskDriver)
	if err != nil {
		return nil, nil, err
	}
	return sessionStorage, taskStorage, nil
}

func newSessionStorage(ctx context.Context, cfg config.IConfig, driver config.StorageDriver) (session.Storage, error) {
	switch driver {
	case config.StorageDriverSQLite:
		dsn, err := cfg.SQLiteDSN()
		if err != nil {
			return nil, err
		}
		return session.NewSQLiteStorage(dsn)
	case config.StorageDriverPostgres:
		dsn, err := cfg.PostgresDSN()
		if err != nil {
			return nil, err
		}
		return session.NewPostgresStorage(dsn)
	case config.StorageDriverDynamoDB:
		prefix, err := cfg.DynamoDBTablePrefix()
		if err != nil {
			return nil, err
		}
		region, err := cfg.DynamoDBRegion()
		if err != nil {
			return nil, err
		}
		return session.NewDynamoDBStorage(ctx, prefix, region)
	default:
		return session.NewMemoryStorage(), nil
	}
}

func newTaskStorage(ctx context.Context, cfg config.IConfig, driver config.StorageDriver) (task.Storage, error) {
	switch driver {
	case config.StorageDriverSQLite:
		dsn, err := cfg.SQLiteDSN()
		if err != nil {
			return nil, err
		}
		return task.NewSQLiteStorage(dsn)
	case config.StorageDriverPostgres:
		dsn, err := cfg.PostgresDSN()
		if err != nil {
			return nil, err
		}
		return task.NewPostgresStorage(dsn)
	case config.StorageDriverDynamoDB:
		prefix, err := cfg.DynamoDBTablePrefix()
		if err != nil {
			return nil, err
		}
		region, err := cfg.DynamoDBRegion()
		if err != nil {
			return nil, err
		}
		return task.NewDynamoDBStorage(ctx, prefix, region)
	default:
		return task.NewMemoryStorage(), nil
	}
}

// ServerOption configures a ServerBuilder.
type ServerOption func(*ServerBuilder) error
