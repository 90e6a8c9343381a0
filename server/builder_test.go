package server

import (
	"context"
	"testing"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/task"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBuilder(t *testing.T) *ServerBuilder {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.NewInternalConfig()
	manager, err := session.NewManager(logger, cfg, session.NewMemoryStorage(), session.NewMemoryEventStore(16))
	require.NoError(t, err)
	return &ServerBuilder{
		ctx:     context.Background(),
		logger:  logger,
		cfg:     cfg,
		manager: manager,
	}
}

func TestServerBuilder_EnsureMCPBaseCapabilityIsIdempotent(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.EnsureMCPBaseCapability())
	first := b.baseCap
	require.NoError(t, b.EnsureMCPBaseCapability())
	assert.Same(t, first, b.baseCap)
	assert.Len(t, b.capabilities, 1)
}

func TestServerBuilder_EnsureToolsCapabilityAlsoEnsuresBase(t *testing.T) {
	b := newTestBuilder(t)
	cap1, err := b.EnsureToolsCapability()
	require.NoError(t, err)
	require.NotNil(t, cap1)
	assert.NotNil(t, b.baseCap, "EnsureToolsCapability must ensure the base capability too")

	cap2, err := b.EnsureToolsCapability()
	require.NoError(t, err)
	assert.Same(t, cap1, cap2)
}

func TestServerBuilder_EnsurePromptsResourcesCompletionRootsLoggingAreIdempotent(t *testing.T) {
	b := newTestBuilder(t)

	prompts1, err := b.EnsurePromptsCapability()
	require.NoError(t, err)
	prompts2, err := b.EnsurePromptsCapability()
	require.NoError(t, err)
	assert.Same(t, prompts1, prompts2)

	resources1, err := b.EnsureResourcesCapability()
	require.NoError(t, err)
	resources2, err := b.EnsureResourcesCapability()
	require.NoError(t, err)
	assert.Same(t, resources1, resources2)

	completion1, err := b.EnsureCompletionCapability()
	require.NoError(t, err)
	completion2, err := b.EnsureCompletionCapability()
	require.NoError(t, err)
	assert.Same(t, completion1, completion2)

	roots1, err := b.EnsureRootsCapability()
	require.NoError(t, err)
	roots2, err := b.EnsureRootsCapability()
	require.NoError(t, err)
	assert.Same(t, roots1, roots2)

	logging1, err := b.EnsureLoggingCapability()
	require.NoError(t, err)
	logging2, err := b.EnsureLoggingCapability()
	require.NoError(t, err)
	assert.Same(t, logging1, logging2)
}

func TestServerBuilder_EnsureTaskRuntimeIsIdempotentAndDefaultsStorage(t *testing.T) {
	b := newTestBuilder(t)
	rt1, err := b.EnsureTaskRuntime(nil)
	require.NoError(t, err)
	require.NotNil(t, rt1)
	assert.NotNil(t, b.tasksCap, "EnsureTaskRuntime must register a TasksCapability")

	rt2, err := b.EnsureTaskRuntime(task.NewMemoryStorage())
	require.NoError(t, err)
	assert.Same(t, rt1, rt2, "a second call must return the existing runtime, ignoring the new storage argument")
}

func TestServerBuilder_SamplingAndElicitationRequestersAreIdempotent(t *testing.T) {
	b := newTestBuilder(t)
	s1 := b.SamplingRequester()
	s2 := b.SamplingRequester()
	assert.Same(t, s1, s2)

	e1 := b.ElicitationRequester()
	e2 := b.ElicitationRequester()
	assert.Same(t, e1, e2)
}

func TestNewSessionStorage_UnknownOrMemoryDriverReturnsMemoryStorage(t *testing.T) {
	cfg := config.NewInternalConfig()
	storage, err := newSessionStorage(context.Background(), cfg, config.StorageDriverMemory)
	require.NoError(t, err)
	assert.IsType(t, session.NewMemoryStorage(), storage)
}

func TestNewTaskStorage_UnknownOrMemoryDriverReturnsMemoryStorage(t *testing.T) {
	cfg := config.NewInternalConfig()
	storage, err := newTaskStorage(context.Background(), cfg, config.StorageDriverMemory)
	require.NoError(t, err)
	assert.IsType(t, task.NewMemoryStorage(), storage)
}

func TestServerBuilder_BuildStoragePropagatesConfiguredDrivers(t *testing.T) {
	b := newTestBuilder(t)
	cfg := b.cfg.(*config.InternalConfig)
	cfg.SessionDriverValue = config.StorageDriverMemory
	cfg.TaskDriverValue = config.StorageDriverMemory

	sessionStorage, taskStorage, err := b.buildStorage()
	require.NoError(t, err)
	assert.NotNil(t, sessionStorage)
	assert.NotNil(t, taskStorage)
}
