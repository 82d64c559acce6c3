package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database  Database  `envPrefix:"DATABASE_"`
	Auth      Auth      `envPrefix:"AUTH_"`
	Payment   Payment   `envPrefix:"PAYMENT_"`
	Stripe    Stripe    `envPrefix:"STRIPE_"`
	Paypal    Paypal    `envPrefix:"PAYPAL_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Kafka     Kafka     `envPrefix:"KAFKA_"`
	Webhook   Webhook   `envPrefix:"WEBHOOK_"`
	Reconcile Reconcile `envPrefix:"RECONCILE_"`
	Breaker   Breaker   `envPrefix:"BREAKER_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

func (e Environment) IsProduction() bool {
	return e.Name == "production"
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	BodyLimit       string        `env:"HTTP_BODY_LIMIT" envDefault:"1M"`
}

func (h HTTPServer) Address() string {
	return h.Host + ":" + h.Port
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"mysql"` // mysql | sqlite
	URL    string `env:"URL"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER"`
}

type Payment struct {
	Provider            string `env:"PROVIDER" envDefault:"stripe"`
	Currency            string `env:"CURRENCY" envDefault:"usd"`
	DefaultShippingRate int64  `env:"DEFAULT_SHIPPING_RATE" envDefault:"500"` // minor units
}

type Stripe struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	AccountID     string `env:"ACCOUNT_ID"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`
}

func (p Paypal) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type Redis struct {
	Addr        string        `env:"ADDR"`
	Password    string        `env:"PASSWORD"`
	DB          int           `env:"DB" envDefault:"0"`
	SettingsTTL time.Duration `env:"SETTINGS_TTL" envDefault:"5m"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"order-events"`
}

type Webhook struct {
	Workers   int `env:"WORKERS" envDefault:"4"`
	QueueSize int `env:"QUEUE_SIZE" envDefault:"256"`
}

type Reconcile struct {
	Interval   time.Duration `env:"INTERVAL" envDefault:"5m"`
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"30m"`
	BatchSize  int           `env:"BATCH_SIZE" envDefault:"50"`
}

type Breaker struct {
	MaxFailures uint32        `env:"MAX_FAILURES" envDefault:"5"`
	OpenTimeout time.Duration `env:"OPEN_TIMEOUT" envDefault:"30s"`
}

// PayPal amounts are sent with two decimals; these currencies accept whole units only.
var paypalWholeUnitCurrencies = map[string]bool{
	"huf": true,
	"jpy": true,
	"twd": true,
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	switch c.Payment.Provider {
	case "stripe":
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for provider stripe")
		}
	case "paypal":
		if !c.Paypal.Enabled() {
			return fmt.Errorf("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required for provider paypal")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.Payment.Provider)
	}
	if c.Paypal.Enabled() && paypalWholeUnitCurrencies[strings.ToLower(c.Payment.Currency)] {
		return fmt.Errorf("PAYMENT_CURRENCY %q has no minor unit and is not supported with paypal", c.Payment.Currency)
	}
	if c.Webhook.Workers <= 0 || c.Webhook.QueueSize <= 0 {
		return fmt.Errorf("WEBHOOK_WORKERS and WEBHOOK_QUEUE_SIZE must be positive")
	}
	return nil
}
