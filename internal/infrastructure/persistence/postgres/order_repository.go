package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
)

// OrderRepository writes order status into the storefront-owned orders table.
// Only the coordinator calls it, and only with PAID/REFUNDED; everything else
// about orders belongs to the storefront.
type OrderRepository struct {
	db Executor
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db.Pool}
}

// SetStatus updates the order status. With a non-empty expectedPrior the
// update is conditional and returns false when the order was not in that
// state — the caller decides whether that is a conflict worth logging.
func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus, expectedPrior domain.OrderStatus) (bool, error) {
	var query string
	var args []any
	if expectedPrior != "" {
		query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
		args = []any{string(status), orderID, string(expectedPrior)}
	} else {
		query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
		args = []any{string(status), orderID}
	}

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *OrderRepository) GetStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("order %s not found", orderID)
		}
		return "", fmt.Errorf("failed to read order status: %w", err)
	}
	return domain.OrderStatus(status), nil
}
