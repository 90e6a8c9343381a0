package transport

import (
	"errors"
	"sync"

	"github.com/gate4ai/mcpcore/shared/config"
	"go.uber.org/zap"
)

// AuthenticationManager validates an authorization key and returns the
// resulting user id and any session parameters to attach. If authKey is
// empty, implementations may use remoteAddr to decide whether to allow
// anonymous access.
type AuthenticationManager interface {
	Authenticate(authKey string, remoteAddr string) (userID string, sessionParams *sync.Map, err error)
}

// ErrUnauthorized is returned when authentication is required but the
// supplied key does not resolve to a known user.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultAuthManager authenticates callers against config.IConfig's
// hashed-API-key store (identity is delegated to config, not owned
// by this core).
type DefaultAuthManager struct {
	logger *zap.Logger
	config config.IConfig
}

var _ AuthenticationManager = (*DefaultAuthManager)(nil)

// NewAuthenticator creates the default authenticator backed by cfg.
func NewAuthenticator(cfg config.IConfig, logger *zap.Logger) *DefaultAuthManager {
	return &DefaultAuthManager{config: cfg, logger: logger}
}

func (a *DefaultAuthManager) Authenticate(authKey string, remoteAddr string) (userID string, sessionParams *sync.Map, err error) {
	sessionParams = &sync.Map{}
	if remoteAddr != "" {
		SaveRemoteAddr(sessionParams, remoteAddr)
	}

	authType, err := a.config.AuthorizationType()
	if err != nil {
		return "", nil, err
	}

	if authKey != "" {
		keyHash := config.HashAPIKey(authKey)
		userID, err = a.config.GetUserIDByKeyHash(keyHash)
		switch {
		case err == nil && userID != "":
			a.logger.Debug("authenticated via API key", zap.String("userID", userID))
		case err != nil && !errors.Is(err, config.ErrNotFound):
			a.logger.Error("error checking key hash", zap.Error(err))
			userID = ""
		default:
			userID = ""
		}
	}

	if userID == "" && authType == config.AuthorizedUsersOnly {
		a.logger.Warn("authorization required but no valid key found", zap.String("authType", authType.String()))
		return "", nil, ErrUnauthorized
	}

	SaveAuthKey(sessionParams, authKey)
	SaveUserId(sessionParams, userID)
	return userID, sessionParams, nil
}

// --- Session parameter helpers ---

const (
	UserIDKey     = "authenticator_user_id"
	AuthKeyKey    = "authenticator_auth_key"
	RemoteAddrKey = "authenticator_remote_addr"
)

func SaveUserId(sessionParams *sync.Map, userID string) {
	sessionParams.Store(UserIDKey, userID)
}

func GetUserId(sessionParams *sync.Map) string {
	userID, ok := sessionParams.Load(UserIDKey)
	if !ok {
		return ""
	}
	return userID.(string)
}

func SaveAuthKey(sessionParams *sync.Map, authKey string) {
	sessionParams.Store(AuthKeyKey, authKey)
}

func GetAuthKey(sessionParams *sync.Map) string {
	authKey, ok := sessionParams.Load(AuthKeyKey)
	if !ok {
		return ""
	}
	return authKey.(string)
}

func SaveRemoteAddr(sessionParams *sync.Map, remoteAddr string) {
	sessionParams.Store(RemoteAddrKey, remoteAddr)
}

func GetRemoteAddr(sessionParams *sync.Map) string {
	remoteAddr, ok := sessionParams.Load(RemoteAddrKey)
	if !ok {
		return ""
	}
	return remoteAddr.(string)
}
