package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration

	// Database
	DBDriver          string
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBCharset         string
	SQLiteDBPath      string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBMaxWaiters      int
	DBAcquireTimeout  time.Duration
	DBAutoMigrate     bool

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, falling back to defaults.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	driver := strings.ToLower(v.GetString("DB_DRIVER"))
	autoMigrate := driver == DriverSQLite
	if v.IsSet("DB_AUTO_MIGRATE") {
		autoMigrate = v.GetBool("DB_AUTO_MIGRATE")
	}

	return &Config{
		Port:               v.GetString("PORT"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		ShutdownTimeout:    v.GetDuration("SHUTDOWN_TIMEOUT"),

		DBDriver:          driver,
		DBHost:            v.GetString("DB_HOST"),
		DBPort:            v.GetInt("DB_PORT"),
		DBUser:            v.GetString("DB_USER"),
		DBPassword:        v.GetString("DB_PASSWORD"),
		DBName:            v.GetString("DB_NAME"),
		DBCharset:         v.GetString("DB_CHARSET"),
		SQLiteDBPath:      v.GetString("SQLITE_DB_PATH"),
		DBMaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		DBMaxWaiters:      v.GetInt("DB_MAX_WAITERS"),
		DBAcquireTimeout:  v.GetDuration("DB_ACQUIRE_TIMEOUT"),
		DBAutoMigrate:     autoMigrate,

		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),
		AMQPQueue:    v.GetString("AMQP_QUEUE"),

		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "3000")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("SHUTDOWN_TIMEOUT", 30*time.Second)

	v.SetDefault("DB_DRIVER", DriverMySQL)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "kakeibo_db")
	v.SetDefault("DB_CHARSET", "utf8mb4")
	v.SetDefault("SQLITE_DB_PATH", "./data/kakeibo.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_MAX_WAITERS", 100)
	v.SetDefault("DB_ACQUIRE_TIMEOUT", 10*time.Second)

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "kakeibo")
	v.SetDefault("AMQP_QUEUE", "expense_events")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DBDriver {
	case DriverMySQL:
		if c.DBHost == "" {
			errors = append(errors, "database host cannot be empty when using mysql driver")
		}
		if c.DBPort < 1 || c.DBPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid database port %d: must be between 1 and 65535", c.DBPort))
		}
		if c.DBUser == "" {
			errors = append(errors, "database user cannot be empty when using mysql driver")
		}
		if c.DBName == "" {
			errors = append(errors, "database name cannot be empty when using mysql driver")
		}
	case DriverSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite driver")
		} else if c.SQLiteDBPath != ":memory:" {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid database driver '%s': must be one of [%s %s]", c.DBDriver, DriverMySQL, DriverSQLite))
	}

	// Validate pool sizing
	if c.DBMaxOpenConns < 1 {
		errors = append(errors, fmt.Sprintf("invalid max open connections %d: must be at least 1", c.DBMaxOpenConns))
	}
	if c.DBMaxIdleConns < 0 {
		errors = append(errors, fmt.Sprintf("invalid max idle connections %d: must not be negative", c.DBMaxIdleConns))
	}
	if c.DBMaxWaiters < -1 {
		errors = append(errors, fmt.Sprintf("invalid max waiters %d: must be -1 (unbounded) or greater", c.DBMaxWaiters))
	}
	if c.DBAcquireTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid acquire timeout %v: must not be negative", c.DBAcquireTimeout))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
