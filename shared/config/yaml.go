package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var _ IConfig = (*YamlConfig)(nil)

// YamlConfig implements IConfig from a YAML file, hot-reloaded via fsnotify:
// the file is re-parsed whenever it changes on disk, so a running server
// picks up new user keys or a flipped strict-lifecycle flag without a
// restart. Suitable for a single-instance dev/local deployment; multi-
// instance production deployments should share a DatabaseConfig instead.
type YamlConfig struct {
	mu                   sync.RWMutex
	configPath           string
	logger               *zap.Logger
	watcher              *fsnotify.Watcher
	serverAddress        string
	serverName           string
	serverVersion        string
	logLevel             string
	authorizationType    AuthorizationType
	strictLifecycle      bool
	pinnedVersion        string
	sessionStorageDriver StorageDriver
	taskStorageDriver    StorageDriver
	sessionTTL           time.Duration
	sqliteDSN            string
	postgresDSN          string
	dynamoDBTablePrefix  string
	dynamoDBRegion       string
	userKeyHashes        map[string]string            // keyHash -> userID (generated on load)
	userParams           map[string]map[string]string // userID -> paramName -> paramValue

	// SSL Fields
	sslEnabled      bool
	sslMode         string
	sslCertFile     string
	sslKeyFile      string
	sslAcmeDomains  []string
	sslAcmeEmail    string
	sslAcmeCacheDir string
}

// YAML configuration structure matching the required format
type yamlConfig struct {
	Server struct {
		Address          string `yaml:"address"`
		Name             string `yaml:"name"`
		Version          string `yaml:"version"`
		LogLevel         string `yaml:"log_level"`
		Authorization    string `yaml:"authorization"` // "users_only", "marked_methods", or "none"
		StrictLifecycle  *bool  `yaml:"strict_lifecycle"`
		ProtocolVersion  string `yaml:"protocol_version"` // pin; empty negotiates the latest
		SessionStorage   string `yaml:"session_storage"`  // "memory" | "sqlite" | "postgres" | "dynamodb"
		TaskStorage      string `yaml:"task_storage"`
		SessionTTL       string `yaml:"session_ttl"` // Go duration string, e.g. "30m"
		SQLiteDSN        string `yaml:"sqlite_dsn"`
		PostgresDSN      string `yaml:"postgres_dsn"`
		DynamoDBPrefix   string `yaml:"dynamodb_table_prefix"`
		DynamoDBRegion   string `yaml:"dynamodb_region"`
		SSL              struct {
			Enabled      bool     `yaml:"enabled"`
			Mode         string   `yaml:"mode"`
			CertFile     string   `yaml:"cert_file"`
			KeyFile      string   `yaml:"key_file"`
			AcmeDomains  []string `yaml:"acme_domains"`
			AcmeEmail    string   `yaml:"acme_email"`
			AcmeCacheDir string   `yaml:"acme_cache_dir"`
		} `yaml:"ssl"`
	} `yaml:"server"`

	Users map[string]struct {
		Keys   []string          `yaml:"keys"` // Store hashes directly
		Params map[string]string `yaml:"params"`
	} `yaml:"users"`
}

// NewYamlConfig creates a new YAML-based configuration and starts watching
// the file for changes.
func NewYamlConfig(configPath string, logger *zap.Logger) (*YamlConfig, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	cfg := &YamlConfig{
		configPath:          configPath,
		logger:              logger,
		userKeyHashes:       make(map[string]string),
		userParams:          make(map[string]map[string]string),
		authorizationType:   AuthorizedUsersOnly, // Default
		strictLifecycle:     true,
		sessionStorageDriver: StorageDriverMemory,
		taskStorageDriver:    StorageDriverMemory,
		sessionTTL:          30 * time.Minute,
		sslMode:             "manual",
		sslAcmeCacheDir:     "./.autocert-cache",
	}

	if err := cfg.reload(); err != nil {
		return nil, err
	}
	if err := cfg.startWatching(); err != nil {
		logger.Warn("failed to start config file watcher, hot-reload disabled", zap.Error(err))
	}
	return cfg, nil
}

// startWatching wires fsnotify to reload() on every write to the config
// file, so edits take effect without a restart.
func (c *YamlConfig) startWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(c.configPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file %q: %w", c.configPath, err)
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					c.logger.Info("config file changed, reloading", zap.String("path", c.configPath))
					if err := c.reload(); err != nil {
						c.logger.Error("failed to reload config file", zap.Error(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// reload re-reads and re-parses the YAML file, replacing every in-memory
// field atomically under the write lock.
func (c *YamlConfig) reload() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var parsed yamlConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverAddress = parsed.Server.Address
	c.serverName = parsed.Server.Name
	c.serverVersion = parsed.Server.Version
	c.logLevel = parsed.Server.LogLevel
	c.pinnedVersion = parsed.Server.ProtocolVersion

	switch strings.ToLower(parsed.Server.Authorization) {
	case "marked_methods":
		c.authorizationType = NotAuthorizedToMarkedMethods
	case "none":
		c.authorizationType = NotAuthorizedEverywhere
	default:
		c.authorizationType = AuthorizedUsersOnly
	}

	if parsed.Server.StrictLifecycle == nil {
		c.strictLifecycle = true
	} else {
		c.strictLifecycle = *parsed.Server.StrictLifecycle
	}

	c.sessionStorageDriver = parseStorageDriver(parsed.Server.SessionStorage)
	c.taskStorageDriver = parseStorageDriver(parsed.Server.TaskStorage)
	c.sqliteDSN = parsed.Server.SQLiteDSN
	c.postgresDSN = parsed.Server.PostgresDSN
	c.dynamoDBTablePrefix = parsed.Server.DynamoDBPrefix
	c.dynamoDBRegion = parsed.Server.DynamoDBRegion

	if parsed.Server.SessionTTL != "" {
		ttl, err := time.ParseDuration(parsed.Server.SessionTTL)
		if err != nil {
			return fmt.Errorf("invalid server.session_ttl %q: %w", parsed.Server.SessionTTL, err)
		}
		c.sessionTTL = ttl
	} else {
		c.sessionTTL = 30 * time.Minute
	}

	c.sslEnabled = parsed.Server.SSL.Enabled
	c.sslMode = strings.ToLower(parsed.Server.SSL.Mode)
	if c.sslMode != "acme" {
		c.sslMode = "manual"
	}
	c.sslCertFile = parsed.Server.SSL.CertFile
	c.sslKeyFile = parsed.Server.SSL.KeyFile
	c.sslAcmeDomains = parsed.Server.SSL.AcmeDomains
	c.sslAcmeEmail = parsed.Server.SSL.AcmeEmail
	c.sslAcmeCacheDir = parsed.Server.SSL.AcmeCacheDir
	if c.sslAcmeCacheDir == "" {
		c.sslAcmeCacheDir = "./.autocert-cache"
	}

	newUserKeyHashes := make(map[string]string)
	newUserParams := make(map[string]map[string]string)
	for userID, user := range parsed.Users {
		for _, keyHash := range user.Keys {
			newUserKeyHashes[keyHash] = userID
		}
		if len(user.Params) > 0 {
			p := make(map[string]string, len(user.Params))
			copyMap(user.Params, p)
			newUserParams[userID] = p
		}
	}
	c.userKeyHashes = newUserKeyHashes
	c.userParams = newUserParams

	return nil
}

func parseStorageDriver(v string) StorageDriver {
	switch StorageDriver(strings.ToLower(v)) {
	case StorageDriverSQLite:
		return StorageDriverSQLite
	case StorageDriverPostgres:
		return StorageDriverPostgres
	case StorageDriverDynamoDB:
		return StorageDriverDynamoDB
	default:
		return StorageDriverMemory
	}
}

// --- IConfig Implementation ---

func (c *YamlConfig) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
func (c *YamlConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverAddress, nil
}
func (c *YamlConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorizationType, nil
}
func (c *YamlConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, nil
}
func (c *YamlConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion, nil
}
func (c *YamlConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel, nil
}
func (c *YamlConfig) StrictLifecycle() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strictLifecycle, nil
}
func (c *YamlConfig) PinnedProtocolVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pinnedVersion, nil
}
func (c *YamlConfig) SessionStorageDriver() (StorageDriver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionStorageDriver, nil
}
func (c *YamlConfig) TaskStorageDriver() (StorageDriver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskStorageDriver, nil
}
func (c *YamlConfig) SessionTTL() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionTTL, nil
}
func (c *YamlConfig) SQLiteDSN() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sqliteDSN, nil
}
func (c *YamlConfig) PostgresDSN() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.postgresDSN, nil
}
func (c *YamlConfig) DynamoDBTablePrefix() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dynamoDBTablePrefix, nil
}
func (c *YamlConfig) DynamoDBRegion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dynamoDBRegion, nil
}

func (c *YamlConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if keyHash == "" {
		return "", nil
	}
	userID, exists := c.userKeyHashes[keyHash]
	if !exists {
		return "", ErrNotFound
	}
	return userID, nil
}

func (c *YamlConfig) GetUserParams(userID string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	params, exists := c.userParams[userID]
	if !exists {
		return make(map[string]string), nil
	}
	paramsCopy := make(map[string]string, len(params))
	copyMap(params, paramsCopy)
	return paramsCopy, nil
}

func (c *YamlConfig) Status(ctx context.Context) error {
	if _, err := os.Stat(c.configPath); err != nil {
		return fmt.Errorf("config file error: %w", err)
	}
	return nil
}

// --- SSL Methods ---
func (c *YamlConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslEnabled, nil
}
func (c *YamlConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslMode, nil
}
func (c *YamlConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslCertFile, nil
}
func (c *YamlConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslKeyFile, nil
}
func (c *YamlConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domainsCopy := make([]string, len(c.sslAcmeDomains))
	copy(domainsCopy, c.sslAcmeDomains)
	return domainsCopy, nil
}
func (c *YamlConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeEmail, nil
}
func (c *YamlConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeCacheDir, nil
}
