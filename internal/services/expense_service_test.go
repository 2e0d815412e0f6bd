package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakeibo/internal/core"
)

type fakeStore struct {
	rows    []core.Expense
	nextID  int64
	err     error
	closed  bool
	pingErr error
}

func (f *fakeStore) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeStore) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if f.err != nil {
		return core.Expense{}, f.err
	}
	f.nextID++
	e.ID = f.nextID
	f.rows = append(f.rows, e)
	return e, nil
}

func (f *fakeStore) DeleteExpense(ctx context.Context, id int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	for i, e := range f.rows {
		if e.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

type fakePublisher struct {
	created []int64
	deleted []int64
	err     error
}

func (p *fakePublisher) PublishExpenseCreated(ctx context.Context, e core.Expense) error {
	p.created = append(p.created, e.ID)
	return p.err
}

func (p *fakePublisher) PublishExpenseDeleted(ctx context.Context, id int64) error {
	p.deleted = append(p.deleted, id)
	return p.err
}

func validExpense() core.Expense {
	return core.Expense{Date: core.NewDate(2024, 5, 1), Category: "food", Product: "bread", Store: "mart", Amount: 300}
}

func TestExpenseService_CreateExpense(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	svc := NewExpenseService(store, pub)

	created, err := svc.CreateExpense(context.Background(), validExpense())
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.ID)
	assert.Equal(t, []int64{1}, pub.created)
}

func TestExpenseService_SetPublisher(t *testing.T) {
	store := &fakeStore{}
	svc := NewExpenseService(store, nil)

	_, err := svc.CreateExpense(context.Background(), validExpense())
	require.NoError(t, err)

	pub := &fakePublisher{}
	svc.SetPublisher(pub)

	created, err := svc.CreateExpense(context.Background(), validExpense())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteExpense(context.Background(), created.ID))
	assert.Equal(t, []int64{2}, pub.created, "events start once a publisher is installed")
	assert.Equal(t, []int64{2}, pub.deleted)
}

func TestExpenseService_CreateExpenseRejectsInvalid(t *testing.T) {
	store := &fakeStore{}
	svc := NewExpenseService(store, nil)

	e := validExpense()
	e.Store = ""
	_, err := svc.CreateExpense(context.Background(), e)
	assert.ErrorIs(t, err, core.ErrEmptyStore)
	assert.Empty(t, store.rows)
}

func TestExpenseService_PublishFailureDoesNotFailRequest(t *testing.T) {
	store := &fakeStore{}
	svc := NewExpenseService(store, &fakePublisher{err: errors.New("channel closed")})

	created, err := svc.CreateExpense(context.Background(), validExpense())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteExpense(context.Background(), created.ID))
}

func TestExpenseService_DeleteExpense(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	svc := NewExpenseService(store, pub)
	ctx := context.Background()

	created, err := svc.CreateExpense(ctx, validExpense())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteExpense(ctx, created.ID))
	assert.Equal(t, []int64{created.ID}, pub.deleted)

	assert.ErrorIs(t, svc.DeleteExpense(ctx, created.ID), ErrExpenseNotFound)
	assert.Len(t, pub.deleted, 1)
}

func TestExpenseService_StorageErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	svc := NewExpenseService(&fakeStore{err: boom}, nil)
	ctx := context.Background()

	_, err := svc.ListExpenses(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = svc.CreateExpense(ctx, validExpense())
	assert.ErrorIs(t, err, boom)

	err = svc.DeleteExpense(ctx, 1)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrExpenseNotFound))
}

func TestExpenseService_Close(t *testing.T) {
	t.Run("nil publisher", func(t *testing.T) {
		store := &fakeStore{}
		service := NewExpenseService(store, nil)

		require.NoError(t, service.Close())
		assert.True(t, store.closed)
	})
}
