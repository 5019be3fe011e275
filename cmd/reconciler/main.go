package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chebitoch007/django-mart-sub000/internal/application"
	"github.com/chebitoch007/django-mart-sub000/internal/application/services"
	"github.com/chebitoch007/django-mart-sub000/internal/config"
	"github.com/chebitoch007/django-mart-sub000/internal/domain"
	"github.com/chebitoch007/django-mart-sub000/internal/infrastructure/gateway"
	"github.com/chebitoch007/django-mart-sub000/internal/infrastructure/persistence/postgres"
	"github.com/chebitoch007/django-mart-sub000/internal/infrastructure/rates"
	"github.com/chebitoch007/django-mart-sub000/internal/infrastructure/storefront"
	"github.com/chebitoch007/django-mart-sub000/internal/interfaces/rest/handlers"
	"github.com/chebitoch007/django-mart-sub000/internal/interfaces/rest/middleware"
	"github.com/chebitoch007/django-mart-sub000/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting payment reconciler",
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
	)

	if cfg.Database.MigrationsDir != "" {
		if err := postgres.RunMigrations(&cfg.Database, cfg.Database.MigrationsDir); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	paymentRepo := postgres.NewPaymentRepository(db)
	orderRepo := postgres.NewOrderRepository(db)

	gateways := map[domain.Provider]application.GatewayClient{
		domain.ProviderMpesa:    gateway.NewRetryGatewayClient(gateway.NewMpesaClient(cfg.Mpesa), cfg.Retry),
		domain.ProviderPaypal:   gateway.NewRetryGatewayClient(gateway.NewPaypalClient(cfg.Paypal), cfg.Retry),
		domain.ProviderPaystack: gateway.NewRetryGatewayClient(gateway.NewPaystackClient(cfg.Paystack), cfg.Retry),
		domain.ProviderStripe:   gateway.NewRetryGatewayClient(gateway.NewStripeClient(cfg.Stripe), cfg.Retry),
	}

	storefrontClient := storefront.NewClient(cfg.Storefront, logger)
	rateProvider := rates.NewClient(cfg.Rates, logger)

	ledger := services.NewLedgerService(paymentRepo, logger)
	coordinator := services.NewOrderCoordinator(orderRepo, storefrontClient, storefrontClient, logger)
	engine := services.NewReconciliationEngine(ledger, paymentRepo, gateways, coordinator, logger)
	checkout := services.NewCheckoutService(ledger, paymentRepo, gateways, rateProvider,
		services.CheckoutConfig{
			CallbackBaseURL:     cfg.Server.CallbackBaseURL,
			MpesaCallbackSecret: cfg.Mpesa.CallbackSecret,
			PaypalCurrency:      cfg.Paypal.Currency,
		}, logger)

	mux := http.NewServeMux()
	handlers.NewHandlers(checkout, engine, cfg.Mpesa.CallbackSecret, db.Pool, logger).Register(mux)

	handler := middleware.Recovery(logger)(mux)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Timeout(cfg.Server.ReadTimeout)(handler)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	verifier := worker.NewVerifier(paymentRepo, engine, cfg.Worker, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	go verifier.Start(workerCtx)

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
