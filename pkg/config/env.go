package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	IdempotencyBackendMemory = "memory"
	IdempotencyBackendRedis  = "redis"
	IdempotencyBackendSQL    = "sql"
)

const (
	MailProviderLog    = "log"
	MailProviderSMTP   = "smtp"
	MailProviderResend = "resend"
)

const (
	PayPalSandboxBase = "https://api-m.sandbox.paypal.com"
	PayPalLiveBase    = "https://api-m.paypal.com"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv             = "STOREFRONT_APP_ENV"
	EnvPort               = "STOREFRONT_APP_PORT"
	EnvStripeAPIKey       = "STOREFRONT_STRIPE_API_KEY"
	EnvStripeSecret       = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnabled      = "STOREFRONT_STRIPE_ENABLED"
	EnvPayPalClientID     = "STOREFRONT_PAYPAL_CLIENT_ID"
	EnvPayPalClientSecret = "STOREFRONT_PAYPAL_CLIENT_SECRET"
	EnvPayPalEnabled      = "STOREFRONT_PAYPAL_ENABLED"
	EnvPayPalUseSandbox   = "STOREFRONT_PAYPAL_USE_SANDBOX"
	EnvPayPalBaseURL      = "STOREFRONT_PAYPAL_BASE_URL"
	EnvMailProvider       = "STOREFRONT_MAIL_PROVIDER"
	EnvSMTPUser           = "STOREFRONT_SMTP_USER"
	EnvSMTPPassword       = "STOREFRONT_SMTP_PASSWORD"
	EnvResendAPIKey       = "STOREFRONT_RESEND_API_KEY"
	EnvNotifyAdminDelay   = "STOREFRONT_NOTIFY_ADMIN_DELAY"
	EnvIdempotencyBackend = "STOREFRONT_IDEMPOTENCY_BACKEND"
	EnvRedisURL           = "STOREFRONT_REDIS_URL"
	EnvRedisAddr          = "STOREFRONT_REDIS_ADDR"
)
