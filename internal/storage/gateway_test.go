package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakeibo/internal/core"
)

type countingRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *countingRecorder) PoolSaturated(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func openTestGateway(t *testing.T, mutate func(*PoolConfig), opts ...Option) *Gateway {
	t.Helper()
	cfg := PoolConfig{
		Driver:         DriverSQLite,
		Path:           filepath.Join(t.TempDir(), "kakeibo.db"),
		MaxOpenConns:   4,
		MaxIdleConns:   2,
		MaxWaiters:     -1,
		AcquireTimeout: 0,
		AutoMigrate:    true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.Migrate())
	return g
}

func expense(date string, amount int64) core.Expense {
	d, _ := core.ParseDate(date)
	return core.Expense{Date: d, Category: "food", Product: "bread", Store: "mart", Amount: amount}
}

func TestGatewayCreateAndList(t *testing.T) {
	g := openTestGateway(t, nil)
	ctx := context.Background()

	created, err := g.CreateExpense(ctx, expense("2024-05-01", 300))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.EqualValues(t, 300, created.Amount)

	second, err := g.CreateExpense(ctx, expense("2024-05-02", 120))
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, second.ID)

	list, err := g.ListExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, created, list[1])
}

func TestGatewayListOrderedByDateDescending(t *testing.T) {
	g := openTestGateway(t, nil)
	ctx := context.Background()

	for _, d := range []string{"2024-01-01", "2024-03-01", "2024-02-01"} {
		_, err := g.CreateExpense(ctx, expense(d, 1))
		require.NoError(t, err)
	}

	list, err := g.ListExpenses(ctx)
	require.NoError(t, err)
	var got []string
	for _, e := range list {
		got = append(got, e.Date.String())
	}
	assert.Equal(t, []string{"2024-03-01", "2024-02-01", "2024-01-01"}, got)
}

func TestGatewayListEmptyIsNotNil(t *testing.T) {
	g := openTestGateway(t, nil)

	list, err := g.ListExpenses(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestGatewayDelete(t *testing.T) {
	g := openTestGateway(t, nil)
	ctx := context.Background()

	created, err := g.CreateExpense(ctx, expense("2024-05-01", 300))
	require.NoError(t, err)

	n, err := g.DeleteExpense(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = g.DeleteExpense(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	list, err := g.ListExpenses(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGatewayBindsParametersVerbatim(t *testing.T) {
	g := openTestGateway(t, nil)
	ctx := context.Background()

	e := expense("2024-05-01", 5)
	e.Product = "x'); DROP TABLE expenses; --"
	_, err := g.CreateExpense(ctx, e)
	require.NoError(t, err)

	list, err := g.ListExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, e.Product, list[0].Product)
}

func TestGatewayPing(t *testing.T) {
	g := openTestGateway(t, nil)
	assert.NoError(t, g.Ping(context.Background()))
}

func TestGatewayRejectsWhenQueueFull(t *testing.T) {
	rec := &countingRecorder{}
	g := openTestGateway(t, func(c *PoolConfig) {
		c.MaxOpenConns = 1
		c.MaxWaiters = 0
	}, WithSaturationRecorder(rec))
	ctx := context.Background()

	_, release, err := g.acquire(ctx)
	require.NoError(t, err)

	_, err = g.ListExpenses(ctx)
	assert.ErrorIs(t, err, ErrPoolSaturated)

	release()
	_, err = g.ListExpenses(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"queue_full"}, rec.reasons)
}

func TestGatewayRejectsAfterAcquireTimeout(t *testing.T) {
	rec := &countingRecorder{}
	g := openTestGateway(t, func(c *PoolConfig) {
		c.MaxOpenConns = 1
		c.MaxWaiters = 1
		c.AcquireTimeout = 50 * time.Millisecond
	}, WithSaturationRecorder(rec))
	ctx := context.Background()

	_, release, err := g.acquire(ctx)
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = g.ListExpenses(ctx)
	assert.ErrorIs(t, err, ErrPoolSaturated)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, []string{"acquire_timeout"}, rec.reasons)
}

func TestGatewayWaitsForReleasedConnection(t *testing.T) {
	g := openTestGateway(t, func(c *PoolConfig) {
		c.MaxOpenConns = 1
		c.MaxWaiters = 1
		c.AcquireTimeout = 2 * time.Second
	})
	ctx := context.Background()

	_, release, err := g.acquire(ctx)
	require.NoError(t, err)
	time.AfterFunc(20*time.Millisecond, release)

	_, err = g.ListExpenses(ctx)
	assert.NoError(t, err)
}

func TestPoolConfigDSN(t *testing.T) {
	dsn, err := PoolConfig{
		Driver:   DriverMySQL,
		Host:     "db.local",
		Port:     3306,
		User:     "root",
		Password: "secret",
		Database: "kakeibo_db",
		Charset:  "utf8mb4",
	}.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "root:secret@tcp(db.local:3306)/kakeibo_db"), dsn)
	assert.Contains(t, dsn, "charset=utf8mb4")

	dsn, err = PoolConfig{Driver: DriverSQLite, Path: "/tmp/k.db"}.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "/tmp/k.db?"))

	_, err = PoolConfig{Driver: "oracle"}.DSN()
	assert.Error(t, err)
}
