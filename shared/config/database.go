package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var _ IConfig = (*DatabaseConfig)(nil)

// DatabaseConfig implements IConfig against a PostgreSQL database, for
// multi-instance deployments where every server process must observe the
// same user keys and settings (the shared-config case). Generic
// settings live in a key/value "Settings" table; user identity lives in
// "ApiKey"/"User" tables.
type DatabaseConfig struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewDatabaseConfig opens a connection pool against dbConnectionString and
// verifies it with a ping.
func NewDatabaseConfig(ctx context.Context, dbConnectionString string, logger *zap.Logger) (*DatabaseConfig, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	db, err := sql.Open("postgres", dbConnectionString)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DatabaseConfig{db: db, logger: logger}, nil
}

func (c *DatabaseConfig) Close() error {
	return c.db.Close()
}

// --- IConfig Implementation ---

func (c *DatabaseConfig) ListenAddr() (string, error) {
	return c.getSettingString("server_listen_address", ":8080")
}

func (c *DatabaseConfig) ServerName() (string, error) {
	return c.getSettingString("server_name", "mcpcore")
}

func (c *DatabaseConfig) ServerVersion() (string, error) {
	return c.getSettingString("server_version", "0.0.0")
}

func (c *DatabaseConfig) LogLevel() (string, error) {
	return c.getSettingString("server_log_level", "info")
}

func (c *DatabaseConfig) AuthorizationType() (AuthorizationType, error) {
	rawValue, err := c.getSettingJSON("server_authorization_type")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthorizedUsersOnly, nil
		}
		return AuthorizedUsersOnly, err
	}
	switch v := rawValue.(type) {
	case float64:
		return AuthorizationType(int(v)), nil
	case string:
		switch strings.ToLower(v) {
		case "authorizedusersonly", "users_only":
			return AuthorizedUsersOnly, nil
		case "notauthorizedtomarkedmethods", "marked_methods":
			return NotAuthorizedToMarkedMethods, nil
		case "notauthorizedeverywhere", "none":
			return NotAuthorizedEverywhere, nil
		default:
			return AuthorizedUsersOnly, fmt.Errorf("invalid authorization type string value: %s", v)
		}
	default:
		return AuthorizedUsersOnly, fmt.Errorf("invalid authorization type format in database: %T", rawValue)
	}
}

func (c *DatabaseConfig) StrictLifecycle() (bool, error) {
	return c.getSettingBool("server_strict_lifecycle", true)
}

func (c *DatabaseConfig) PinnedProtocolVersion() (string, error) {
	return c.getSettingString("server_pinned_protocol_version", "")
}

func (c *DatabaseConfig) SessionStorageDriver() (StorageDriver, error) {
	v, err := c.getSettingString("session_storage_driver", string(StorageDriverPostgres))
	if err != nil {
		return StorageDriverPostgres, err
	}
	return parseStorageDriver(v), nil
}

func (c *DatabaseConfig) TaskStorageDriver() (StorageDriver, error) {
	v, err := c.getSettingString("task_storage_driver", string(StorageDriverPostgres))
	if err != nil {
		return StorageDriverPostgres, err
	}
	return parseStorageDriver(v), nil
}

func (c *DatabaseConfig) SessionTTL() (time.Duration, error) {
	v, err := c.getSettingString("session_ttl", "30m")
	if err != nil {
		return 30 * time.Minute, err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 30 * time.Minute, fmt.Errorf("invalid session_ttl setting %q: %w", v, err)
	}
	return d, nil
}

// SQLiteDSN is not applicable to a database-backed config; Postgres is the
// storage backend of record when this IConfig is selected.
func (c *DatabaseConfig) SQLiteDSN() (string, error) { return "", nil }

func (c *DatabaseConfig) PostgresDSN() (string, error) {
	return c.getSettingString("postgres_dsn", "")
}

func (c *DatabaseConfig) DynamoDBTablePrefix() (string, error) {
	return c.getSettingString("dynamodb_table_prefix", "")
}

func (c *DatabaseConfig) DynamoDBRegion() (string, error) {
	return c.getSettingString("dynamodb_region", "")
}

func (c *DatabaseConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	if keyHash == "" {
		return "", nil
	}
	var userID string
	err := c.db.QueryRow(`SELECT "userId" FROM "ApiKey" WHERE "keyHash" = $1 LIMIT 1`, keyHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query user by key hash: %w", err)
	}
	return userID, nil
}

func (c *DatabaseConfig) GetUserParams(userID string) (map[string]string, error) {
	query := `SELECT name, status, role, company FROM "User" WHERE id = $1 LIMIT 1`
	var name, status, role, company sql.NullString
	err := c.db.QueryRow(query, userID).Scan(&name, &status, &role, &company)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("query user params: %w", err)
	}
	params := make(map[string]string)
	if name.Valid {
		params["name"] = name.String
	}
	if status.Valid {
		params["status"] = status.String
	}
	if role.Valid {
		params["role"] = role.String
	}
	if company.Valid {
		params["company"] = company.String
	}
	return params, nil
}

func (c *DatabaseConfig) Status(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		c.logger.Error("DB ping failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *DatabaseConfig) SSLEnabled() (bool, error) {
	return c.getSettingBool("server_ssl_enabled", false)
}
func (c *DatabaseConfig) SSLMode() (string, error) {
	return c.getSettingString("server_ssl_mode", "manual")
}
func (c *DatabaseConfig) SSLCertFile() (string, error) {
	return c.getSettingString("server_ssl_cert_file", "")
}
func (c *DatabaseConfig) SSLKeyFile() (string, error) {
	return c.getSettingString("server_ssl_key_file", "")
}
func (c *DatabaseConfig) SSLAcmeEmail() (string, error) {
	return c.getSettingString("server_ssl_acme_email", "")
}
func (c *DatabaseConfig) SSLAcmeCacheDir() (string, error) {
	return c.getSettingString("server_ssl_acme_cache_dir", "./.autocert-cache")
}
func (c *DatabaseConfig) SSLAcmeDomains() ([]string, error) {
	return c.getSettingStringSlice("server_ssl_acme_domains", []string{})
}

// --- Database Helper Functions ---

func (c *DatabaseConfig) getSettingRaw(key string) ([]byte, error) {
	var valueStr sql.NullString
	err := c.db.QueryRowContext(context.Background(), `SELECT value FROM "Settings" WHERE key = $1 LIMIT 1`, key).Scan(&valueStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query setting '%s': %w", key, err)
	}
	if !valueStr.Valid {
		return nil, ErrNotFound
	}
	return []byte(valueStr.String), nil
}

func (c *DatabaseConfig) getSettingJSON(key string) (interface{}, error) {
	raw, err := c.getSettingRaw(key)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("unmarshal setting '%s': %w", key, err)
	}
	return value, nil
}

func (c *DatabaseConfig) getSettingString(key string, defaultValue string) (string, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%v", int(v)), nil
	default:
		return defaultValue, fmt.Errorf("setting '%s' has unexpected type %T", key, value)
	}
}

func (c *DatabaseConfig) getSettingBool(key string, defaultValue bool) (bool, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	boolValue, ok := value.(bool)
	if !ok {
		return defaultValue, fmt.Errorf("setting '%s' is not a boolean (type: %T)", key, value)
	}
	return boolValue, nil
}

func (c *DatabaseConfig) getSettingStringSlice(key string, defaultValue []string) ([]string, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	if sliceInterface, ok := value.([]interface{}); ok {
		strSlice := make([]string, 0, len(sliceInterface))
		for i, item := range sliceInterface {
			if strVal, ok := item.(string); ok {
				strSlice = append(strSlice, strVal)
			} else {
				return defaultValue, fmt.Errorf("non-string value at index %d in setting '%s'", i, key)
			}
		}
		return strSlice, nil
	}
	return defaultValue, fmt.Errorf("setting '%s' is not a JSON array of strings (type: %T)", key, value)
}
