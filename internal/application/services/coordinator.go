package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

const coordinationTimeout = 10 * time.Second

// OrderCoordinator propagates terminal payment outcomes to the rest of the
// storefront: order status, cart, customer notifications. It runs strictly
// after the ledger transaction commits and never inside the payment row lock.
// Every step is best-effort; a failed side effect is logged and the payment
// record stays authoritative.
type OrderCoordinator struct {
	orders      application.OrderStore
	cartClearer application.CartClearer
	notifier    application.Notifier
	logger      *slog.Logger
}

func NewOrderCoordinator(
	orders application.OrderStore,
	cartClearer application.CartClearer,
	notifier application.Notifier,
	logger *slog.Logger,
) *OrderCoordinator {
	return &OrderCoordinator{
		orders:      orders,
		cartClearer: cartClearer,
		notifier:    notifier,
		logger:      logger,
	}
}

// OnPaymentChanged reacts to a committed payment status change. It runs on
// the caller's goroutine, before the webhook is acknowledged, but detaches
// from the request context so a closed connection cannot abort side effects
// midway.
func (c *OrderCoordinator) OnPaymentChanged(ctx context.Context, payment *domain.Payment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), coordinationTimeout)
	defer cancel()

	switch payment.Status {
	case domain.StatusCompleted:
		c.onCompleted(ctx, payment)
	case domain.StatusFailed:
		c.onFailed(ctx, payment)
	case domain.StatusRefunded:
		c.onRefunded(ctx, payment)
	}
}

func (c *OrderCoordinator) onCompleted(ctx context.Context, payment *domain.Payment) {
	updated, err := c.orders.SetStatus(ctx, payment.OrderID, domain.OrderPaid, domain.OrderPending)
	if err != nil {
		c.logger.Error("failed to mark order paid",
			"order_id", payment.OrderID, "payment_id", payment.ID, "error", err)
	} else if !updated {
		// Order already moved past PENDING; a replayed success or a verify
		// racing a webhook. The payment row is already consistent.
		c.logger.Info("order not in PENDING, skipping paid transition",
			"order_id", payment.OrderID, "payment_id", payment.ID)
	}

	if err := c.cartClearer.ClearCart(ctx, payment.OrderID); err != nil {
		c.logger.Warn("failed to clear cart",
			"order_id", payment.OrderID, "error", err)
	}

	c.notify(ctx, payment, domain.EventKindPaymentCompleted)
}

// onFailed leaves the order PENDING so the customer can retry. Temporary
// failures send no notification: the verification worker may still settle
// them, and a premature "payment failed" message is worse than silence.
func (c *OrderCoordinator) onFailed(ctx context.Context, payment *domain.Payment) {
	if payment.FailureType != nil && *payment.FailureType == domain.FailureTemporary {
		return
	}
	c.notify(ctx, payment, domain.EventKindPaymentFailed)
}

func (c *OrderCoordinator) onRefunded(ctx context.Context, payment *domain.Payment) {
	if _, err := c.orders.SetStatus(ctx, payment.OrderID, domain.OrderRefunded, ""); err != nil {
		c.logger.Error("failed to mark order refunded",
			"order_id", payment.OrderID, "payment_id", payment.ID, "error", err)
	}
	c.notify(ctx, payment, domain.EventKindPaymentRefunded)
}

func (c *OrderCoordinator) notify(ctx context.Context, payment *domain.Payment, kind domain.EventKind) {
	if err := c.notifier.Notify(ctx, payment.OrderID, payment.ID, kind); err != nil {
		c.logger.Warn("failed to send notification",
			"order_id", payment.OrderID, "payment_id", payment.ID, "kind", kind, "error", err)
	}
}
