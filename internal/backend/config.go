package backend

import (
	"fmt"
	"strings"
	"time"

	"kakeibo/internal/config"
	"kakeibo/internal/storage"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DBDriver)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s (valid: %s)",
			appConfig.DBDriver, strings.Join(GetBackendTypeStrings(), ", "))
	}

	return Config{
		Type: backendType,

		Pool: storage.PoolConfig{
			Driver:          appConfig.DBDriver,
			Host:            appConfig.DBHost,
			Port:            appConfig.DBPort,
			User:            appConfig.DBUser,
			Password:        appConfig.DBPassword,
			Database:        appConfig.DBName,
			Charset:         appConfig.DBCharset,
			Path:            appConfig.SQLiteDBPath,
			MaxOpenConns:    appConfig.DBMaxOpenConns,
			MaxIdleConns:    appConfig.DBMaxIdleConns,
			ConnMaxLifetime: appConfig.DBConnMaxLifetime,
			MaxWaiters:      appConfig.DBMaxWaiters,
			AcquireTimeout:  appConfig.DBAcquireTimeout,
			AutoMigrate:     appConfig.DBAutoMigrate,
		},

		AMQPURL:             appConfig.AMQPURL,
		AMQPExchange:        appConfig.AMQPExchange,
		AMQPQueue:           appConfig.AMQPQueue,
		AMQPConnectAttempts: 3,
		AMQPConnectTimeout:  15 * time.Second,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if string(c.Type) != c.Pool.Driver {
		return fmt.Errorf("backend type %s does not match pool driver %s", c.Type, c.Pool.Driver)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.Pool.Path == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case MySQLBackend:
		if c.Pool.Host == "" || c.Pool.Database == "" {
			return fmt.Errorf("host and database name are required for mysql backend")
		}
	}

	// AMQP is optional, but half a configuration is a mistake
	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		return fmt.Errorf("AMQP exchange and queue are required when AMQP URL is set")
	}

	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{MySQLBackend.String(), SQLiteBackend.String()}
}
