// Package session implements the MCP server-side session registry: the
// session lifecycle state machine, in-process event fan-out, and the
// pluggable SessionStorage contract that lets a deployment keep
// session records in memory, in embedded SQLite, in Postgres, or in a cloud
// KV store without changing any of the code in this package.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/config"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned by GetSession/Storage lookups that miss.
var ErrSessionNotFound = errors.New("session not found")

// ISessionManager is the server-side session registry used by internal/transport
// and internal/capability to create, look up, broadcast to, and retire sessions.
type ISessionManager interface {
	// CreateSession creates a session with an explicit id, so a resumable
	// GET SSE reconnect (Last-Event-ID) can recreate the same
	// session object a prior POST handshake produced. Pass "" to let the
	// manager mint a fresh UUIDv7 id.
	CreateSession(userID string, id string, params *sync.Map) shared.ISession
	GetSession(id string) (shared.ISession, error)
	RemoveSession(id string)
	CloseSession(id string)
	CloseAllSessions()
	GetLogger() *zap.Logger

	AddCapability(capabilities ...shared.ICapability)
	AddValidator(validators ...shared.MessageValidator)
	Input() *shared.Input

	NotifyEligibleSessions(method string, params map[string]any)
	CleanupIdleSessions(timeout time.Duration)
	GetServerInfo() *schema.Implementation

	// Events returns the journal backing resumable GET SSE streams
	// (Last-Event-ID replay).
	Events() EventStore

	// NotifyTaskStatusChanged implements task.Notifier structurally, so a
	// *task.Runtime can be constructed directly from an ISessionManager.
	NotifyTaskStatusChanged(sessionID string, params schema.TaskStatusChangedNotificationParams)
}

var _ ISessionManager = (*Manager)(nil)

// Manager holds every live in-process Session and persists session records
// through a pluggable Storage backend.
type Manager struct {
	sessions       map[string]*Session
	mu             sync.RWMutex
	logger         *zap.Logger
	ServerInfo     schema.Implementation
	inputProcessor *shared.Input
	storage        Storage
	events         EventStore
}

// NewManager creates a new session manager. storage/events may be nil, in
// which case in-memory backends are used (suitable for a single-process
// deployment or for tests). Production deployments pass the backend pair
// selected by config.IConfig.SessionStorageDriver (see storage_sqlite.go,
// storage_postgres.go, storage_dynamodb.go).
func NewManager(logger *zap.Logger, cfg config.IConfig, storage Storage, events EventStore) (*Manager, error) {
	serverName, err := cfg.ServerName()
	if err != nil {
		return nil, err
	}
	serverVersion, err := cfg.ServerVersion()
	if err != nil {
		return nil, err
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if events == nil {
		events = NewMemoryEventStore(1000)
	}

	m := &Manager{
		sessions:       make(map[string]*Session),
		logger:         logger,
		inputProcessor: shared.NewInput(logger),
		storage:        storage,
		events:         events,
		ServerInfo: schema.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
	}
	go m.inputProcessor.Process()
	return m, nil
}

func (m *Manager) Input() *shared.Input                  { return m.inputProcessor }
func (m *Manager) GetLogger() *zap.Logger                { return m.logger }
func (m *Manager) Events() EventStore                    { return m.events }
func (m *Manager) GetServerInfo() *schema.Implementation {
	return &m.ServerInfo
}

// AddCapability registers one or more capabilities with the input processor.
func (m *Manager) AddCapability(capabilities ...shared.ICapability) {
	for _, cap := range capabilities {
		switch c := cap.(type) {
		case shared.IServerCapability:
			m.inputProcessor.AddServerCapability(c)
		case shared.IClientCapability:
			m.inputProcessor.AddClientCapability(c)
		default:
			m.logger.Warn("capability implements neither IServerCapability nor IClientCapability", zap.String("type", fmt.Sprintf("%T", cap)))
		}
	}
}

func (m *Manager) AddValidator(validators ...shared.MessageValidator) {
	m.inputProcessor.AddValidator(validators...)
}

// CreateSession creates a new session, registers it in the in-process map,
// and records it in Storage. A storage failure is logged but never blocks
// session creation: the live channel is what matters for correctness, and a
// cold-start deployment without a reachable store should still serve traffic.
func (m *Manager) CreateSession(userID string, id string, params *sync.Map) shared.ISession {
	m.mu.Lock()
	session := NewSession(m, userID, id, m.inputProcessor, params)
	session.SetEventSink(newJournalSink(m.events))
	m.sessions[session.ID] = session
	m.mu.Unlock()

	if err := m.storage.Put(context.Background(), session.Record()); err != nil {
		m.logger.Error("failed to persist session record", zap.String("sessionID", session.ID), zap.Error(err))
	}

	m.logger.Debug("created new session", zap.String("sessionID", session.ID), zap.String("userID", userID))
	return session
}

// GetSession retrieves a live, in-process session by id. A session whose
// process-local object was lost (e.g. after a restart) but whose record
// still exists in Storage cannot be rehydrated here: the transport layer
// answers a request carrying such an id with HTTP 404.
func (m *Manager) GetSession(id string) (shared.ISession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// RemoveSession drops the in-process reference without closing the output
// channel and without deleting the Storage record or event journal.
func (m *Manager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		delete(m.sessions, id)
		m.logger.Debug("removed session reference", zap.String("sessionID", id))
	}
}

// CloseSession closes and forgets a session, and deletes its Storage record.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		m.logger.Warn("attempted to close non-existent session", zap.String("sessionID", id))
		return
	}
	if err := session.Close(); err != nil {
		m.logger.Error("error closing session resources", zap.String("sessionID", id), zap.Error(err))
	}
	if err := m.storage.Delete(context.Background(), id); err != nil {
		m.logger.Error("failed to delete session record", zap.String("sessionID", id), zap.Error(err))
	}
	if err := m.events.CleanupExpired(context.Background(), []string{id}); err != nil {
		m.logger.Error("failed to clean up session event journal", zap.String("sessionID", id), zap.Error(err))
	}
	m.logger.Info("closed session", zap.String("sessionID", id))
}

func (m *Manager) CloseAllSessions() {
	m.mu.RLock()
	idsToClose := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		idsToClose = append(idsToClose, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range idsToClose {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			m.CloseSession(sessionID)
		}(id)
	}
	wg.Wait()
	m.logger.Info("closed all sessions")
}

// CleanupIdleSessions closes any session whose last activity exceeds timeout.
// Intended to run on a ticker alongside ExpireStaleRecords, which sweeps Storage.
func (m *Manager) CleanupIdleSessions(timeout time.Duration) {
	m.mu.RLock()
	idle := make([]string, 0)
	now := time.Now()
	for id, sess := range m.sessions {
		if sess.GetLastActivity().Add(timeout).Before(now) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("closing idle session", zap.String("sessionID", id))
		m.CloseSession(id)
	}
}

// ExpireStaleRecords sweeps Storage for records whose LastActivity exceeds
// ttl and removes both the record and its event journal. Unlike
// CleanupIdleSessions (which only ever sees live in-process Sessions), this
// also reclaims records left behind by a process restart, where the
// in-memory session map is empty but Storage still holds rows.
func (m *Manager) ExpireStaleRecords(ctx context.Context, ttl time.Duration) {
	cutoff := time.Now().Add(-ttl).Unix()
	expiredIDs, err := m.storage.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.Error("failed to sweep expired session records", zap.Error(err))
		return
	}
	if len(expiredIDs) == 0 {
		return
	}
	if err := m.events.CleanupExpired(ctx, expiredIDs); err != nil {
		m.logger.Error("failed to sweep expired session event journals", zap.Error(err))
	}
	m.mu.Lock()
	for _, id := range expiredIDs {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	m.logger.Info("expired stale session records", zap.Int("count", len(expiredIDs)))
}

// NotifyTaskStatusChanged implements task.Notifier: it delivers a
// tasks/status notification to the one session that owns the task, if that
// session is still connected. A session that disconnected (GET stream torn
// down, no live object) simply misses the push; tasks/get and tasks/result
// remain the durable way to observe the outcome.
func (m *Manager) NotifyTaskStatusChanged(sessionID string, params schema.TaskStatusChangedNotificationParams) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return
	}
	data, err := json.Marshal(params)
	if err != nil {
		m.logger.Error("failed to marshal task status notification", zap.Error(err))
		return
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return
	}
	sess.SendNotification("notifications/tasks/status", asMap)
}

// NotifyEligibleSessions broadcasts a notification to every active session.
func (m *Manager) NotifyEligibleSessions(method string, params map[string]any) {
	m.mu.RLock()
	eligible := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.GetStatus() == shared.StatusActive {
			eligible = append(eligible, sess)
		}
	}
	m.mu.RUnlock()

	if len(eligible) == 0 {
		return
	}
	m.logger.Debug("sending notification to eligible sessions", zap.String("method", method), zap.Int("count", len(eligible)))
	for _, sess := range eligible {
		sess.SendNotification(method, params)
	}
}
