package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gate4ai/mcpcore/internal/session"
	"github.com/gate4ai/mcpcore/internal/transport"
	"github.com/gate4ai/mcpcore/internal/validators"
	"github.com/gate4ai/mcpcore/shared/config"

	"go.uber.org/zap"
)

// Start builds an MCP server from cfg and the given options, opens its
// listener, and returns a channel that reports the underlying HTTP server's
// terminal error (nil on graceful shutdown): build a ServerBuilder, apply
// options, attach default validators, register capabilities, mount the
// transport and status endpoints, then hand off to
// StartHTTPServer/ShutdownHTTPServer for the listen/drain lifecycle.
func Start(ctx context.Context, logger *zap.Logger, cfg config.IConfig, options ...ServerOption) (<-chan error, error) {
	listenAddr, err := cfg.ListenAddr()
	if err != nil {
		return nil, err
	}

	b := &ServerBuilder{
		ctx:        ctx,
		logger:     logger,
		cfg:        cfg,
		listenAddr: listenAddr,
		mux:        http.NewServeMux(),
	}

	sessionStorage, taskStorage, err := b.buildStorage()
	if err != nil {
		return nil, err
	}
	// SQL and DynamoDB session backends double as the event journal; only the
	// in-memory backend needs a separate store.
	events, ok := sessionStorage.(session.EventStore)
	if !ok {
		events = session.NewMemoryEventStore(256)
	}
	manager, err := session.NewManager(logger, cfg, sessionStorage, events)
	if err != nil {
		return nil, err
	}
	b.manager = manager

	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	// Built before any option runs so EnsureToolsCapability always wires a
	// live runtime into ToolsCapability, regardless of whether WithMCPTool or
	// WithMCPTaskTool registers first (ToolsCapability captures runtime once,
	// at construction).
	taskRuntime, err := b.EnsureTaskRuntime(taskStorage)
	if err != nil {
		return nil, err
	}
	// Fail any task left non-terminal by a previous process before accepting
	// new traffic: nothing in this process could still be running it.
	if err := taskRuntime.RecoverStuckOnStartup(ctx, time.Now()); err != nil {
		return nil, err
	}

	// Background sweep for state the idle-session ticker cannot see: session
	// records orphaned by a prior process and tasks past their TTL.
	sessionTTL, err := cfg.SessionTTL()
	if err != nil || sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.ExpireStaleRecords(ctx, sessionTTL)
				taskRuntime.SweepExpired(ctx)
			}
		}
	}()

	for _, opt := range options {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	if b.resourcesCap != nil && b.rootsCap != nil {
		b.resourcesCap.SetRootsValidator(b.rootsCap)
	}

	manager.AddValidator(validators.CreateDefaultValidators()...)
	manager.AddCapability(b.capabilities...)

	transportOptions := []transport.TransportOption{}
	if ttl, err := cfg.SessionTTL(); err == nil && ttl > 0 {
		transportOptions = append(transportOptions, transport.WithSessionTimeout(ttl))
	}
	t, err := transport.New(manager, logger, cfg, transportOptions...)
	if err != nil {
		return nil, err
	}
	b.transport = t
	if b.registerMCPRoutes {
		t.RegisterMCPHandlers(b.mux)
	}

	b.mux.HandleFunc("/status", statusHandler(cfg, logger))

	srv, errCh, err := transport.StartHTTPServer(ctx, logger, cfg, b.mux, b.listenAddr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		transport.ShutdownHTTPServer(shutdownCtx, logger, srv)
	}()
	return errCh, nil
}

// statusHandler reports whether the configured storage/backends are
// reachable.
func statusHandler(cfg config.IConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{"ok": true}
		if err := cfg.Status(r.Context()); err != nil {
			status["ok"] = false
			status["error"] = err.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.Warn("failed to encode status response", zap.Error(err))
		}
	}
}
