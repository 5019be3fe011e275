// Package worker runs the background sweep that actively verifies payments
// whose webhook never arrived.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
)

var (
	verifySweeps  = metrics.NewCounter("verifier_sweeps_total")
	verifyApplied = metrics.NewCounter("verifier_payments_settled_total")
	verifyErrors  = metrics.NewCounter("verifier_errors_total")
)

// VerifyEngine is the slice of the reconciliation engine the worker needs.
type VerifyEngine interface {
	VerifyPayment(ctx context.Context, paymentID string) (*domain.Payment, bool, error)
}

// Verifier periodically sweeps PENDING/PROCESSING payments whose last update
// is older than the stale window and asks the provider for their outcome.
// Webhooks usually settle payments first; the sweep is the safety net behind
// lost or delayed deliveries.
type Verifier struct {
	repo        application.PaymentRepository
	engine      VerifyEngine
	interval    time.Duration
	batchSize   int
	staleWindow time.Duration
	logger      *slog.Logger
}

func NewVerifier(
	repo application.PaymentRepository,
	engine VerifyEngine,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) *Verifier {
	return &Verifier{
		repo:        repo,
		engine:      engine,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		staleWindow: cfg.StaleWindow,
		logger:      logger,
	}
}

func (v *Verifier) Start(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.logger.Info("starting payment verifier",
		"interval", v.interval,
		"batch_size", v.batchSize,
		"stale_window", v.staleWindow,
	)

	for {
		select {
		case <-ctx.Done():
			v.logger.Info("stopping payment verifier")
			return
		case <-ticker.C:
			v.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single verification sweep.
func (v *Verifier) RunOnce(ctx context.Context) {
	verifySweeps.Inc()

	stale, err := v.repo.FindStaleActive(ctx, v.staleWindow, v.batchSize)
	if err != nil {
		verifyErrors.Inc()
		v.logger.Error("failed to fetch stale payments", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	v.logger.Info("verifying stale payments", "count", len(stale))

	for _, p := range stale {
		if ctx.Err() != nil {
			return
		}

		payment, changed, err := v.engine.VerifyPayment(ctx, p.ID)
		if err != nil {
			if errors.Is(err, application.ErrGatewayUnavailable) {
				// Provider outage; the payment stays for the next sweep.
				v.logger.Warn("provider unavailable, deferring verification",
					"payment_id", p.ID, "provider", p.Provider)
				continue
			}
			verifyErrors.Inc()
			v.logger.Error("verification failed",
				"payment_id", p.ID, "provider", p.Provider, "error", err)
			continue
		}

		if changed {
			verifyApplied.Inc()
			v.logger.Info("verification settled payment",
				"payment_id", payment.ID, "status", payment.Status)
		}
	}
}
