// Package services wires the payment ledger, reconciliation engine, order
// coordinator and checkout flow on top of the application ports.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

// LedgerService owns all writes to the payments table. Every status change
// runs inside a transaction holding the per-payment row lock, and the critical
// section never performs network I/O.
type LedgerService struct {
	paymentRepo application.PaymentRepository
	logger      *slog.Logger
	now         func() time.Time
}

func NewLedgerService(paymentRepo application.PaymentRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		paymentRepo: paymentRepo,
		logger:      logger,
		now:         time.Now,
	}
}

// Create inserts a new PENDING payment after checking the one-active-payment
// rule for its (order, provider) pair. The partial unique index backs the
// check, so a race between two creates still yields exactly one row.
func (s *LedgerService) Create(ctx context.Context, payment *domain.Payment) error {
	existing, err := s.paymentRepo.FindActiveByOrderAndProvider(ctx, payment.OrderID, payment.Provider)
	if err != nil && !domain.IsErrorCode(err, domain.ErrCodePaymentNotFound) {
		return application.NewInternalError(err)
	}
	if existing != nil {
		return domain.NewDuplicateActivePaymentError(payment.OrderID, payment.Provider)
	}

	return s.paymentRepo.Create(ctx, payment)
}

// ApplyEvent locks the payment row, drives the state machine with the event
// and persists the result in the same transaction. It returns the payment as
// it stands after the event and whether anything changed. An event the machine
// rejects rolls back and surfaces InvalidTransition; the row is untouched.
func (s *LedgerService) ApplyEvent(ctx context.Context, paymentID string, event *domain.ProviderEvent) (*domain.Payment, bool, error) {
	var payment *domain.Payment
	var changed bool

	err := s.paymentRepo.WithTx(ctx, func(txRepo application.PaymentRepository) error {
		var txErr error
		payment, txErr = txRepo.FindByIDForUpdate(ctx, paymentID)
		if txErr != nil {
			return txErr
		}

		changed, txErr = payment.Apply(event, s.now())
		if txErr != nil {
			return txErr
		}
		if !changed {
			return nil
		}
		return txRepo.Update(ctx, payment)
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.logger.Info("payment updated",
			"payment_id", payment.ID,
			"order_id", payment.OrderID,
			"provider", payment.Provider,
			"status", payment.Status,
			"event", event.Status,
		)
	}
	return payment, changed, nil
}

// ResolveDuplicates settles an initiate race where more than one row shares a
// provider reference. The most recently created row wins; every other still
// active row is failed as superseded. Rows already terminal are left alone.
func (s *LedgerService) ResolveDuplicates(ctx context.Context, payments []*domain.Payment) (*domain.Payment, error) {
	if len(payments) == 0 {
		return nil, domain.NewPaymentNotFoundError("")
	}
	winner := payments[0]
	if len(payments) == 1 {
		return winner, nil
	}

	err := s.paymentRepo.WithTx(ctx, func(txRepo application.PaymentRepository) error {
		for _, loser := range payments[1:] {
			locked, txErr := txRepo.FindByIDForUpdate(ctx, loser.ID)
			if txErr != nil {
				return txErr
			}
			if !locked.Active() {
				continue
			}
			locked.SupersededBy(winner.ID, s.now())
			if txErr := txRepo.Update(ctx, locked); txErr != nil {
				return txErr
			}
			s.logger.Warn("superseded duplicate payment",
				"loser_id", locked.ID,
				"winner_id", winner.ID,
				"order_id", locked.OrderID,
			)
		}
		return nil
	})
	if err != nil {
		return nil, application.NewInternalError(err)
	}
	return winner, nil
}
