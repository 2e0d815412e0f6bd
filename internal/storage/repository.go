package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"kakeibo/internal/core"
)

const (
	listExpensesSQL  = `SELECT id, date, category, product, store, amount FROM expenses ORDER BY date DESC`
	insertExpenseSQL = `INSERT INTO expenses (date, category, product, store, amount) VALUES (?, ?, ?, ?, ?)`
	deleteExpenseSQL = `DELETE FROM expenses WHERE id = ?`
)

// ListExpenses returns every expense, newest date first.
func (g *Gateway) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	expenses := make([]core.Expense, 0)
	err := g.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, listExpensesSQL)
		if err != nil {
			return fmt.Errorf("query expenses: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e core.Expense
			if err := rows.Scan(&e.ID, &e.Date, &e.Category, &e.Product, &e.Store, &e.Amount); err != nil {
				return fmt.Errorf("scan expense: %w", err)
			}
			expenses = append(expenses, e)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate expenses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// CreateExpense inserts e and returns it with the id assigned by the engine.
func (g *Gateway) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	err := g.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, insertExpenseSQL, e.Date, e.Category, e.Product, e.Store, e.Amount)
		if err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read inserted id: %w", err)
		}
		e.ID = id
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	slog.DebugContext(ctx, "Expense saved",
		"id", e.ID,
		"date", e.Date.String(),
		"category", e.Category,
		"amount", e.Amount,
		"driver", g.cfg.Driver)

	return e, nil
}

// DeleteExpense removes the expense with the given id and reports how many
// rows were affected.
func (g *Gateway) DeleteExpense(ctx context.Context, id int64) (int64, error) {
	var affected int64
	err := g.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, deleteExpenseSQL, id)
		if err != nil {
			return fmt.Errorf("delete expense %d: %w", id, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read affected rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
