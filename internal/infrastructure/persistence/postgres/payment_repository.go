package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `
	id, order_id, provider, status,
	amount, currency, original_amount, original_currency,
	converted_amount, converted_currency,
	transaction_id, checkout_request_id, phone_number, payer_email,
	result_code, result_description, failure_type,
	retry_count, last_retry_at, raw_response,
	created_at, updated_at`

type PaymentRepository struct {
	db   Executor
	pool *DB
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db.Pool, pool: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22)
	`

	m := toDBModel(payment)
	_, err := r.db.Exec(ctx, query,
		m.ID, m.OrderID, m.Provider, m.Status,
		m.Amount, m.Currency, m.OriginalAmount, m.OriginalCurrency,
		m.ConvertedAmount, m.ConvertedCurrency,
		m.TransactionID, m.CheckoutRequestID, m.PhoneNumber, m.PayerEmail,
		m.ResultCode, m.ResultDescription, m.FailureType,
		m.RetryCount, m.LastRetryAt, m.RawResponse,
		m.CreatedAt, m.UpdatedAt,
	)

	if err != nil {
		if IsUniqueViolation(err) {
			return domain.NewDuplicateActivePaymentError(payment.OrderID, payment.Provider)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id), id)
}

// FindByIDForUpdate retrieves a payment with a row-level lock. Only
// meaningful inside WithTx.
func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(r.db.QueryRow(ctx, query, id), id)
}

// FindByReference matches a provider event to payments, primary key first
// (checkout request id), transaction id as fallback. More than one row means
// an initiate race that ResolveDuplicates has to settle.
func (r *PaymentRepository) FindByReference(ctx context.Context, checkoutRequestID, transactionID string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE ($1 <> '' AND checkout_request_id = $1)
		   OR ($2 <> '' AND transaction_id = $2)
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Query(ctx, query, checkoutRequestID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query payments by reference: %w", err)
	}
	return collectPayments(rows)
}

func (r *PaymentRepository) FindActiveByOrderAndProvider(ctx context.Context, orderID string, provider domain.Provider) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1 AND provider = $2 AND status IN ('PENDING', 'PROCESSING')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, orderID, string(provider)), orderID)
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query payments by order_id: %w", err)
	}
	return collectPayments(rows)
}

// FindStaleActive returns PENDING/PROCESSING payments whose last update is
// older than the window, for the active-verification worker.
func (r *PaymentRepository) FindStaleActive(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ('PENDING', 'PROCESSING')
		  AND checkout_request_id IS NOT NULL
		  AND updated_at < NOW() - $1::interval
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *PaymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $1,
			converted_amount = $2, converted_currency = $3,
			transaction_id = $4, checkout_request_id = $5,
			result_code = $6, result_description = $7, failure_type = $8,
			retry_count = $9, last_retry_at = $10, raw_response = $11,
			updated_at = $12
		WHERE id = $13
	`

	m := toDBModel(payment)
	result, err := r.db.Exec(ctx, query,
		m.Status,
		m.ConvertedAmount, m.ConvertedCurrency,
		m.TransactionID, m.CheckoutRequestID,
		m.ResultCode, m.ResultDescription, m.FailureType,
		m.RetryCount, m.LastRetryAt, m.RawResponse,
		m.UpdatedAt,
		m.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewPaymentNotFoundError(payment.ID)
	}

	return nil
}

// WithTx runs fn against a repository bound to a single transaction.
// Rolls back on error, commits otherwise.
func (r *PaymentRepository) WithTx(ctx context.Context, fn func(repo application.PaymentRepository) error) error {
	tx, err := r.pool.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := &PaymentRepository{db: tx, pool: r.pool}
	if err := fn(txRepo); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanPayment(row pgx.Row, ref string) (*domain.Payment, error) {
	var m PaymentModel
	err := row.Scan(
		&m.ID, &m.OrderID, &m.Provider, &m.Status,
		&m.Amount, &m.Currency, &m.OriginalAmount, &m.OriginalCurrency,
		&m.ConvertedAmount, &m.ConvertedCurrency,
		&m.TransactionID, &m.CheckoutRequestID, &m.PhoneNumber, &m.PayerEmail,
		&m.ResultCode, &m.ResultDescription, &m.FailureType,
		&m.RetryCount, &m.LastRetryAt, &m.RawResponse,
		&m.CreatedAt, &m.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewPaymentNotFoundError(ref)
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return toDomainModel(&m), nil
}

func collectPayments(rows pgx.Rows) ([]*domain.Payment, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Payment, error) {
		var m PaymentModel
		err := row.Scan(
			&m.ID, &m.OrderID, &m.Provider, &m.Status,
			&m.Amount, &m.Currency, &m.OriginalAmount, &m.OriginalCurrency,
			&m.ConvertedAmount, &m.ConvertedCurrency,
			&m.TransactionID, &m.CheckoutRequestID, &m.PhoneNumber, &m.PayerEmail,
			&m.ResultCode, &m.ResultDescription, &m.FailureType,
			&m.RetryCount, &m.LastRetryAt, &m.RawResponse,
			&m.CreatedAt, &m.UpdatedAt,
		)
		return toDomainModel(&m), err
	})

	if err != nil {
		return nil, fmt.Errorf("error occurred while scanning rows: %w", err)
	}
	return results, nil
}
