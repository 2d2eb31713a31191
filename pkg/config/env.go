package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so the
// prefix only matters for unnamed fields.
const EnvPrefix = "INVITES"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	LedgerBackendSheets   = "sheets"
	LedgerBackendPostgres = "postgres"
	LedgerBackendSQLite   = "sqlite"
)

const (
	EnvAppEnv                  = "INVITES_APP_ENV"
	EnvPort                    = "INVITES_APP_PORT"
	EnvLedgerBackend           = "INVITES_LEDGER_BACKEND"
	EnvSheetsID                = "INVITES_SHEETS_ID"
	EnvSheetName               = "INVITES_SHEET_NAME"
	EnvSheetsServiceAccountKey = "INVITES_SHEETS_SERVICE_ACCOUNT_KEY_B64"
	EnvGoogleCredentials       = "INVITES_GOOGLE_APPLICATION_CREDENTIALS"
	EnvDBDSN                   = "INVITES_DB_DSN"
	EnvSQLitePath              = "INVITES_SQLITE_PATH"
	EnvDBAutoMigrate           = "INVITES_DB_AUTO_MIGRATE"
	EnvRedisURL                = "INVITES_REDIS_URL"
	EnvRedisAddr               = "INVITES_REDIS_ADDR"
	EnvStripeSecretKey         = "INVITES_STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret     = "INVITES_STRIPE_WEBHOOK_SECRET"
	EnvResendAPIKey            = "INVITES_RESEND_API_KEY"
	EnvResendFrom              = "INVITES_RESEND_FROM"
	EnvCronSecret              = "INVITES_CRON_SECRET"
	EnvInviteBaseURL           = "INVITES_BASE_URL"
	EnvMaxPerRun               = "INVITES_MAX_PER_RUN"
	EnvDryRun                  = "INVITES_DRY_RUN"
	EnvDispatchInterval        = "INVITES_DISPATCH_INTERVAL"
	EnvClaimEnabled            = "INVITES_CLAIM_ENABLED"
	EnvClaimTTL                = "INVITES_CLAIM_TTL"
	EnvTriggerRateLimit        = "INVITES_TRIGGER_RATE_LIMIT"
	EnvTriggerRateWindow       = "INVITES_TRIGGER_RATE_WINDOW"
	EnvTrustProxyHeaders       = "INVITES_TRUST_PROXY_HEADERS"
	EnvLogFormat               = "INVITES_LOG_FORMAT"
)
