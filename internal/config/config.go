package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

type Config struct {
	Primary    Primary          `koanf:"primary"`
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Retry      RetryConfig      `koanf:"retry"`
	Logger     LoggerConfig     `koanf:"logger"`
	Worker     WorkerConfig     `koanf:"worker"`
	Storefront StorefrontConfig `koanf:"storefront"`
	Rates      RatesConfig      `koanf:"rates"`
	Mpesa      MpesaConfig      `koanf:"mpesa"`
	Paypal     PaypalConfig     `koanf:"paypal"`
	Paystack   PaystackConfig   `koanf:"paystack"`
	Stripe     StripeConfig     `koanf:"stripe"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"required"`
	// CallbackBaseURL is the externally reachable prefix providers deliver
	// webhooks to, e.g. https://pay.example.com
	CallbackBaseURL string `koanf:"callback_base_url" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
	MigrationsDir   string        `koanf:"migrations_dir"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxRetries int           `koanf:"max_retries"`
}

type LoggerConfig struct {
	Level string `koanf:"level"`
}

type WorkerConfig struct {
	Interval    time.Duration `koanf:"interval" validate:"required"`
	BatchSize   int           `koanf:"batch_size" validate:"required"`
	StaleWindow time.Duration `koanf:"stale_window" validate:"required"`
}

type StorefrontConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required"`
	ConnTimeout time.Duration `koanf:"conn_timeout" validate:"required"`
	APIKey      string        `koanf:"api_key"`
}

type RatesConfig struct {
	BaseURL     string            `koanf:"base_url"`
	ConnTimeout time.Duration     `koanf:"conn_timeout"`
	Fallback    map[string]string `koanf:"fallback"`
}

type MpesaConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required"`
	ConnTimeout    time.Duration `koanf:"conn_timeout" validate:"required"`
	ConsumerKey    string        `koanf:"consumer_key" validate:"required"`
	ConsumerSecret string        `koanf:"consumer_secret" validate:"required"`
	ShortCode      string        `koanf:"short_code" validate:"required"`
	Passkey        string        `koanf:"passkey" validate:"required"`
	CallbackSecret string        `koanf:"callback_secret" validate:"required"`
}

type PaypalConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required"`
	IPNURL      string        `koanf:"ipn_url" validate:"required"`
	ConnTimeout time.Duration `koanf:"conn_timeout" validate:"required"`
	ClientID    string        `koanf:"client_id" validate:"required"`
	Secret      string        `koanf:"secret" validate:"required"`
	// Currency PayPal charges in; orders in other currencies are converted at
	// initiation time for display.
	Currency string `koanf:"currency"`
}

type PaystackConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required"`
	ConnTimeout time.Duration `koanf:"conn_timeout" validate:"required"`
	SecretKey   string        `koanf:"secret_key" validate:"required"`
}

type StripeConfig struct {
	BaseURL       string        `koanf:"base_url" validate:"required"`
	ConnTimeout   time.Duration `koanf:"conn_timeout" validate:"required"`
	SecretKey     string        `koanf:"secret_key" validate:"required"`
	WebhookSecret string        `koanf:"webhook_secret" validate:"required"`
	// Tolerance bounds how old a signed webhook timestamp may be.
	Tolerance time.Duration `koanf:"tolerance"`
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	err := k.Load(env.Provider("MARTPAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "MARTPAY_")),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	validate := validator.New()

	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}
