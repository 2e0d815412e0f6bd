// Package storage owns the database connection pool and the statements run
// against the expenses table.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/semaphore"

	_ "modernc.org/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ErrPoolSaturated is returned when no connection could be obtained because
// the wait queue is full or the acquire timeout elapsed.
var ErrPoolSaturated = errors.New("connection pool saturated")

// SaturationRecorder is notified whenever a request is turned away by the pool.
type SaturationRecorder interface {
	PoolSaturated(reason string)
}

// PoolConfig describes how to reach the database and how to bound the pool.
type PoolConfig struct {
	Driver string

	// MySQL
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Charset  string

	// SQLite
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// MaxWaiters bounds callers queued for a connection once all MaxOpenConns
	// are busy. -1 means unbounded.
	MaxWaiters int
	// AcquireTimeout bounds the wait for a connection. 0 waits indefinitely.
	AcquireTimeout time.Duration
	AutoMigrate    bool
}

// DSN renders the driver-specific data source name.
func (c PoolConfig) DSN() (string, error) {
	switch c.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.Timeout = 5 * time.Second
		dsn := mc.FormatDSN()
		// charset goes through the DSN parser so the driver negotiates it.
		if c.Charset != "" {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "charset=" + c.Charset
		}
		return dsn, nil
	case DriverSQLite:
		if c.Path == "" {
			return "", fmt.Errorf("sqlite path is empty")
		}
		return c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", c.Driver)
	}
}

// Gateway is the explicitly constructed handle to the connection pool.
// Every statement runs on a connection scoped to a single call.
type Gateway struct {
	db             *sql.DB
	cfg            PoolConfig
	slots          *semaphore.Weighted
	acquireTimeout time.Duration
	recorder       SaturationRecorder
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithSaturationRecorder reports pool rejections to r.
func WithSaturationRecorder(r SaturationRecorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// Open prepares the pool without dialing. Reachability is checked separately
// with Ping so that an unreachable database never blocks startup.
func Open(cfg PoolConfig, opts ...Option) (*Gateway, error) {
	if cfg.MaxOpenConns < 1 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns < 0 {
		cfg.MaxIdleConns = 0
	}

	if cfg.Driver == DriverSQLite && cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	g := &Gateway{
		db:             db,
		cfg:            cfg,
		acquireTimeout: cfg.AcquireTimeout,
	}
	if cfg.MaxWaiters >= 0 {
		g.slots = semaphore.NewWeighted(int64(cfg.MaxOpenConns + cfg.MaxWaiters))
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Migrate applies the embedded schema when the pool was configured for it.
func (g *Gateway) Migrate() error {
	if !g.cfg.AutoMigrate {
		return nil
	}
	dsn, err := g.cfg.DSN()
	if err != nil {
		return err
	}
	return RunMigrations(g.cfg.Driver, dsn)
}

// DB exposes the underlying handle for stats collection.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

// Target describes the database for log lines, without credentials.
func (g *Gateway) Target() []any {
	if g.cfg.Driver == DriverSQLite {
		return []any{"driver", g.cfg.Driver, "path", g.cfg.Path}
	}
	return []any{
		"driver", g.cfg.Driver,
		"host", g.cfg.Host,
		"user", g.cfg.User,
		"database", g.cfg.Database,
	}
}

// Close releases every pooled connection.
func (g *Gateway) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// withConn runs fn on a scoped connection. The connection and the waiter
// slot are released on every exit path.
func (g *Gateway) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(conn)
}

func (g *Gateway) acquire(ctx context.Context) (*sql.Conn, func(), error) {
	if g.slots != nil {
		if !g.slots.TryAcquire(1) {
			g.saturated(ctx, "queue_full")
			return nil, nil, ErrPoolSaturated
		}
	}
	releaseSlot := func() {
		if g.slots != nil {
			g.slots.Release(1)
		}
	}

	acqCtx := ctx
	cancel := func() {}
	if g.acquireTimeout > 0 {
		acqCtx, cancel = context.WithTimeout(ctx, g.acquireTimeout)
	}
	conn, err := g.db.Conn(acqCtx)
	cancel()
	if err != nil {
		releaseSlot()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil &&
			g.db.Stats().InUse >= g.cfg.MaxOpenConns {
			g.saturated(ctx, "acquire_timeout")
			return nil, nil, ErrPoolSaturated
		}
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}

	return conn, func() {
		if err := conn.Close(); err != nil {
			slog.WarnContext(ctx, "Failed to release connection", "error", err)
		}
		releaseSlot()
	}, nil
}

func (g *Gateway) saturated(ctx context.Context, reason string) {
	stats := g.db.Stats()
	slog.WarnContext(ctx, "Connection pool saturated",
		"reason", reason,
		"in_use", stats.InUse,
		"max_open", g.cfg.MaxOpenConns,
		"max_waiters", g.cfg.MaxWaiters,
		"wait_count", stats.WaitCount)
	if g.recorder != nil {
		g.recorder.PoolSaturated(reason)
	}
}

// Ping verifies that a connection can be established and is alive.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.withConn(ctx, func(conn *sql.Conn) error {
		if err := conn.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		return nil
	})
}
