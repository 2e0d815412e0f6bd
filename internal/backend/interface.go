package backend

import (
	"context"
	"time"

	"kakeibo/internal/services"
	"kakeibo/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the wired service, its gateway and a cleanup function
type BackendResult struct {
	Service *services.ExpenseService
	Gateway *storage.Gateway
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend opens the pool and wires the expense service
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	Pool storage.PoolConfig

	// Change events, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// AMQPConnectAttempts bounds broker dial retries at startup.
	AMQPConnectAttempts int
	AMQPConnectTimeout  time.Duration
}

// BackendType represents the storage engine behind the gateway
type BackendType string

const (
	MySQLBackend  BackendType = storage.DriverMySQL
	SQLiteBackend BackendType = storage.DriverSQLite
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MySQLBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}
