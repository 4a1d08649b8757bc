package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Catalog       CatalogConfig
	Stripe        StripeConfig
	PayPal        PayPalConfig
	Mail          MailConfig
	Notifications NotificationsConfig
	Idempotency   IdempotencyConfig
	Redis         RedisConfig
	DB            DBConfig
	Downloads     DownloadsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`

	CORSOrigins     []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type CatalogConfig struct {
	ProductsFile string `envconfig:"STOREFRONT_PRODUCTS_FILE" default:"configs/products.json"`
	CheckoutFile string `envconfig:"STOREFRONT_CHECKOUT_FILE" default:"configs/checkout.json"`
}

type StripeConfig struct {
	Enabled bool   `envconfig:"STOREFRONT_STRIPE_ENABLED" default:"true"`
	APIKey  string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Secret  string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env     string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	Enabled      bool          `envconfig:"STOREFRONT_PAYPAL_ENABLED" default:"true"`
	ClientID     string        `envconfig:"STOREFRONT_PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"STOREFRONT_PAYPAL_CLIENT_SECRET"`
	UseSandbox   bool          `envconfig:"STOREFRONT_PAYPAL_USE_SANDBOX" default:"true"`
	BaseURL      string        `envconfig:"STOREFRONT_PAYPAL_BASE_URL"`
	Timeout      time.Duration `envconfig:"STOREFRONT_PAYPAL_TIMEOUT" default:"15s"`
}

// APIBase returns the PayPal REST base URL, honouring an explicit override.
func (p PayPalConfig) APIBase() string {
	if base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"); base != "" {
		return base
	}
	if p.UseSandbox {
		return PayPalSandboxBase
	}
	return PayPalLiveBase
}

type MailConfig struct {
	Provider      string `envconfig:"STOREFRONT_MAIL_PROVIDER" default:"log"`
	From          string `envconfig:"STOREFRONT_MAIL_FROM"`
	SMTPHost      string `envconfig:"STOREFRONT_SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort      int    `envconfig:"STOREFRONT_SMTP_PORT" default:"587"`
	SMTPUser      string `envconfig:"STOREFRONT_SMTP_USER"`
	SMTPPassword  string `envconfig:"STOREFRONT_SMTP_PASSWORD"`
	ResendAPIKey  string `envconfig:"STOREFRONT_RESEND_API_KEY"`
	ResendBaseURL string `envconfig:"STOREFRONT_RESEND_BASE_URL" default:"https://api.resend.com"`
}

type NotificationsConfig struct {
	SiteName            string        `envconfig:"STOREFRONT_SITE_NAME" default:"TishCommerce"`
	AdminEmail          string        `envconfig:"STOREFRONT_ADMIN_EMAIL"`
	ConfirmationSubject string        `envconfig:"STOREFRONT_CONFIRMATION_SUBJECT" default:"Your Order Confirmation"`
	ConfirmationMessage string        `envconfig:"STOREFRONT_CONFIRMATION_MESSAGE" default:"Your order was placed successfully. Thank you for your purchase!"`
	AdminDelay          time.Duration `envconfig:"STOREFRONT_NOTIFY_ADMIN_DELAY" default:"2s"`
}

type IdempotencyConfig struct {
	Backend       string        `envconfig:"STOREFRONT_IDEMPOTENCY_BACKEND" default:"memory"`
	ClaimTTL      time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_CLAIM_TTL" default:"10m"`
	FulfilledTTL  time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_FULFILLED_TTL" default:"720h"`
	WebhookTTL    time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_WEBHOOK_TTL" default:"72h"`
	RequestKeyTTL time.Duration `envconfig:"STOREFRONT_IDEMPOTENCY_REQUEST_TTL" default:"24h"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type DBConfig struct {
	Driver      string `envconfig:"STOREFRONT_DB_DRIVER" default:"sqlite"`
	DSN         string `envconfig:"STOREFRONT_DB_DSN" default:"file:storefront.db?cache=shared"`
	AutoMigrate bool   `envconfig:"STOREFRONT_DB_AUTO_MIGRATE" default:"true"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type DownloadsConfig struct {
	SigningSecret string        `envconfig:"STOREFRONT_DOWNLOAD_SIGNING_SECRET"`
	LinkTTL       time.Duration `envconfig:"STOREFRONT_DOWNLOAD_LINK_TTL" default:"72h"`
	PublicBaseURL string        `envconfig:"STOREFRONT_PUBLIC_BASE_URL" default:"http://localhost:8080"`
}

// Signed reports whether download links should be issued as redeemable tokens.
func (d DownloadsConfig) Signed() bool {
	return strings.TrimSpace(d.SigningSecret) != ""
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Idempotency.Backend) {
	case IdempotencyBackendMemory, IdempotencyBackendSQL:
	case IdempotencyBackendRedis:
		if c.Redis.URL == "" && c.Redis.Address == "" {
			return fmt.Errorf("%s or %s is required when %s=%s", EnvRedisURL, EnvRedisAddr, EnvIdempotencyBackend, IdempotencyBackendRedis)
		}
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvIdempotencyBackend, IdempotencyBackendMemory, IdempotencyBackendRedis, IdempotencyBackendSQL)
	}

	switch strings.ToLower(c.Mail.Provider) {
	case MailProviderLog:
	case MailProviderSMTP:
		if c.Mail.SMTPUser == "" || c.Mail.SMTPPassword == "" {
			return fmt.Errorf("%s and %s are required for smtp mail", EnvSMTPUser, EnvSMTPPassword)
		}
	case MailProviderResend:
		if c.Mail.ResendAPIKey == "" {
			return fmt.Errorf("%s is required for resend mail", EnvResendAPIKey)
		}
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvMailProvider, MailProviderLog, MailProviderSMTP, MailProviderResend)
	}

	if c.Stripe.Enabled && (c.Stripe.APIKey == "" || c.Stripe.Secret == "") {
		return fmt.Errorf("%s and %s are required when stripe is enabled", EnvStripeAPIKey, EnvStripeSecret)
	}
	if c.PayPal.Enabled && (c.PayPal.ClientID == "" || c.PayPal.ClientSecret == "") {
		return fmt.Errorf("%s and %s are required when paypal is enabled", EnvPayPalClientID, EnvPayPalClientSecret)
	}
	if c.Notifications.AdminDelay < 0 {
		return fmt.Errorf("%s must be non-negative", EnvNotifyAdminDelay)
	}
	return nil
}
