package session

import (
	"sync"
	"time"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/gate4ai/mcpcore/shared/mcp/schema"
	"go.uber.org/zap"
)

// IDownstreamSession is the server-facing view of a client connection:
// everything shared.ISession offers plus the initialize-time handshake info.
type IDownstreamSession interface {
	shared.ISession
	SetClientInfo(info schema.Implementation, caps schema.ClientCapabilities)
}

var _ IDownstreamSession = (*Session)(nil)

// Session is the server's live, in-process representation of one client
// connection. Record() projects the durable fields into a storage-safe
// struct; Session itself holds the non-serializable output channel and
// request correlation map via shared.BaseSession.
type Session struct {
	*shared.BaseSession
	manager ISessionManager
	UserID  string

	NegotiatedVersion  string                     `json:"-"`
	ClientCapabilities *schema.ClientCapabilities `json:"-"`
	ClientInfo         schema.Implementation      `json:"-"`
}

// NewSession creates a new session. id may be empty, in which case
// shared.NewBaseSession mints a UUIDv7.
func NewSession(manager ISessionManager, userID string, id string, inputProcessor *shared.Input, params *sync.Map) *Session {
	return &Session{
		BaseSession: shared.NewBaseSession(manager.GetLogger(), id, inputProcessor, params),
		manager:     manager,
		UserID:      userID,
	}
}

func (s *Session) Close() error {
	logger := s.BaseSession.Logger
	logger.Debug("closing session")
	if err := s.BaseSession.Close(); err != nil {
		logger.Error("error closing base session", zap.Error(err))
		return err
	}
	return nil
}

// SetClientInfo stores the client's capabilities and implementation info,
// learned from the initialize request.
func (s *Session) SetClientInfo(info schema.Implementation, caps schema.ClientCapabilities) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.ClientInfo = info
	s.ClientCapabilities = &caps
}

func (s *Session) GetClientInfo() schema.Implementation {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.ClientInfo
}

func (s *Session) GetClientCapabilities() *schema.ClientCapabilities {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.ClientCapabilities
}

// Record projects the session's durable fields for SessionStorage. The
// output channel, RequestManager, and Input pointer are process-local and
// never persisted: a record rehydrated on another node (or after a restart)
// can tell a client its session expired, but cannot resume in-flight streaming.
func (s *Session) Record() Record {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return Record{
		ID:                s.ID,
		UserID:            s.UserID,
		Status:            s.GetStatus(),
		NegotiatedVersion: s.GetNegotiatedVersion(),
		ClientName:        s.ClientInfo.Name,
		ClientVersion:     s.ClientInfo.Version,
		CreatedAt:         s.CreatedAt,
		LastActivity:      s.GetLastActivity(),
	}
}

// Record is the durable, storage-safe projection of a Session.
type Record struct {
	ID                string
	UserID            string
	Status            shared.SessionStatus
	NegotiatedVersion string
	ClientName        string
	ClientVersion     string
	CreatedAt         time.Time
	LastActivity      time.Time
}
