package config

import (
	"context"
	"sync"
	"time"
)

var _ IConfig = (*InternalConfig)(nil)

// InternalConfig implements IConfig with in-memory storage: the default for
// tests and for single-process dev servers that embed the builder directly.
type InternalConfig struct {
	mu                     sync.RWMutex
	ServerAddress          string
	ServerNameValue        string
	ServerVersionValue     string
	AuthorizationTypeValue AuthorizationType
	LogLevelValue          string
	StrictLifecycleValue   bool
	PinnedVersionValue     string
	SessionDriverValue     StorageDriver
	TaskDriverValue        StorageDriver
	SessionTTLValue        time.Duration
	SQLiteDSNValue         string
	PostgresDSNValue       string
	DynamoDBPrefixValue    string
	DynamoDBRegionValue    string
	UserKeyHashes          map[string]string            // keyHash -> userID
	userParams             map[string]map[string]string // userID -> paramName -> paramValue

	// SSL Fields
	SSLEnabledValue      bool
	SSLModeValue         string
	SSLCertFileValue     string
	SSLKeyFileValue      string
	SSLAcmeDomainsValue  []string
	SSLAcmeEmailValue    string
	SSLAcmeCacheDirValue string
}

// NewInternalConfig creates a new in-memory configuration listening on :8080
// as "mcpcore" 0.0.0 at log level info, with a strict lifecycle, in-memory
// session and task storage, a 30-minute session TTL and SSL off (manual mode).
func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		ServerAddress:        ":8080",
		ServerNameValue:      "mcpcore",
		ServerVersionValue:   "0.0.0",
		LogLevelValue:        "info",
		StrictLifecycleValue: true,
		SessionDriverValue:   StorageDriverMemory,
		TaskDriverValue:      StorageDriverMemory,
		SessionTTLValue:      30 * time.Minute,

		UserKeyHashes: make(map[string]string),
		userParams:    make(map[string]map[string]string),

		// Default SSL settings
		SSLEnabledValue:      false,
		SSLModeValue:         "manual",
		SSLAcmeDomainsValue:  []string{},
		SSLAcmeCacheDirValue: "./.autocert-cache",
	}
}

// --- IConfig Implementation ---

func (c *InternalConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerAddress, nil
}
func (c *InternalConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AuthorizationTypeValue, nil
}
func (c *InternalConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerNameValue, nil
}
func (c *InternalConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerVersionValue, nil
}
func (c *InternalConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevelValue, nil
}
func (c *InternalConfig) StrictLifecycle() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StrictLifecycleValue, nil
}
func (c *InternalConfig) PinnedProtocolVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PinnedVersionValue, nil
}
func (c *InternalConfig) SessionStorageDriver() (StorageDriver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionDriverValue, nil
}
func (c *InternalConfig) TaskStorageDriver() (StorageDriver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TaskDriverValue, nil
}
func (c *InternalConfig) SessionTTL() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionTTLValue, nil
}
func (c *InternalConfig) SQLiteDSN() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SQLiteDSNValue, nil
}
func (c *InternalConfig) PostgresDSN() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.PostgresDSNValue, nil
}
func (c *InternalConfig) DynamoDBTablePrefix() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DynamoDBPrefixValue, nil
}
func (c *InternalConfig) DynamoDBRegion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DynamoDBRegionValue, nil
}
func (c *InternalConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLEnabledValue, nil
}
func (c *InternalConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLModeValue, nil
}
func (c *InternalConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLCertFileValue, nil
}
func (c *InternalConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLKeyFileValue, nil
}
func (c *InternalConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dc := make([]string, len(c.SSLAcmeDomainsValue))
	copy(dc, c.SSLAcmeDomainsValue)
	return dc, nil
}
func (c *InternalConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeEmailValue, nil
}
func (c *InternalConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLAcmeCacheDirValue, nil
}
func (c *InternalConfig) Status(ctx context.Context) error { return nil }
func (c *InternalConfig) Close() error                     { return nil }

func (c *InternalConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if keyHash == "" {
		return "", nil
	}
	userID, exists := c.UserKeyHashes[keyHash]
	if !exists {
		return "", ErrNotFound
	}
	return userID, nil
}
func (c *InternalConfig) GetUserParams(userID string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	params, exists := c.userParams[userID]
	if !exists {
		return make(map[string]string), nil
	}
	pc := make(map[string]string, len(params))
	copyMap(params, pc)
	return pc, nil
}
func (c *InternalConfig) SetUserParam(userID, paramName, paramValue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.userParams[userID]; !exists {
		c.userParams[userID] = make(map[string]string)
	}
	c.userParams[userID][paramName] = paramValue
}
func (c *InternalConfig) SetUserKey(plaintextKey, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UserKeyHashes[HashAPIKey(plaintextKey)] = userID
}
