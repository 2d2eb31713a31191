package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	Ledger  LedgerConfig
	Sheets  SheetsConfig
	DB      DBConfig
	Redis   RedisConfig
	Stripe  StripeConfig
	Resend  ResendConfig
	Invites InvitesConfig
}

// Load reads the process environment once. Callers validate the sections they
// need with ValidateAPI or ValidateWorker before touching the ledger.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationMissing, err, "parsing config")
	}
	if err := cfg.DB.ensureDSN(cfg.Ledger); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INVITES_APP_ENV" default:"dev"`
	Port         string `envconfig:"INVITES_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"INVITES_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INVITES_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"INVITES_LOG_FORMAT" default:"json"`
}

// ConsoleLogs reports whether logs should be written for a terminal.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"INVITES_SERVICE_KIND" default:"api"`
}

type LedgerConfig struct {
	Backend string `envconfig:"INVITES_LEDGER_BACKEND" default:"sheets"`
}

// Normalized returns the lower-cased backend name.
func (l LedgerConfig) Normalized() string {
	return strings.ToLower(strings.TrimSpace(l.Backend))
}

type SheetsConfig struct {
	SpreadsheetID        string `envconfig:"INVITES_SHEETS_ID"`
	SheetName            string `envconfig:"INVITES_SHEET_NAME" default:"Data"`
	ServiceAccountKeyB64 string `envconfig:"INVITES_SHEETS_SERVICE_ACCOUNT_KEY_B64"`
	CredentialsFile      string `envconfig:"INVITES_GOOGLE_APPLICATION_CREDENTIALS"`
}

type DBConfig struct {
	DSN        string `envconfig:"INVITES_DB_DSN"`
	SQLitePath string `envconfig:"INVITES_SQLITE_PATH" default:"invites.db"`

	MaxOpenConns    int           `envconfig:"INVITES_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"INVITES_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"INVITES_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INVITES_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// AutoMigrate applies goose migrations (postgres) or the schema (sqlite) at boot in dev.
	AutoMigrate bool `envconfig:"INVITES_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INVITES_REDIS_URL"`
	Address      string        `envconfig:"INVITES_REDIS_ADDR"`
	Password     string        `envconfig:"INVITES_REDIS_PASSWORD"`
	DB           int           `envconfig:"INVITES_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INVITES_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INVITES_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INVITES_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INVITES_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INVITES_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured at all.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type StripeConfig struct {
	APIKey         string        `envconfig:"INVITES_STRIPE_SECRET_KEY"`
	WebhookSecret  string        `envconfig:"INVITES_STRIPE_WEBHOOK_SECRET"`
	Env            string        `envconfig:"INVITES_STRIPE_ENV" default:"test"`
	IdempotencyTTL time.Duration `envconfig:"INVITES_STRIPE_IDEMPOTENCY_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type ResendConfig struct {
	APIKey string `envconfig:"INVITES_RESEND_API_KEY"`
	From   string `envconfig:"INVITES_RESEND_FROM"`
}

type InvitesConfig struct {
	CronSecret       string        `envconfig:"INVITES_CRON_SECRET"`
	BaseURL          string        `envconfig:"INVITES_BASE_URL"`
	MaxPerRun        int           `envconfig:"INVITES_MAX_PER_RUN" default:"20"`
	DryRun           bool          `envconfig:"INVITES_DRY_RUN" default:"false"`
	DispatchInterval time.Duration `envconfig:"INVITES_DISPATCH_INTERVAL" default:"5m"`
	ClaimEnabled     bool          `envconfig:"INVITES_CLAIM_ENABLED" default:"false"`
	ClaimTTL         time.Duration `envconfig:"INVITES_CLAIM_TTL" default:"10m"`

	// Trigger endpoint throttling per client ip; only enforced when Redis is configured.
	TriggerRateLimit  int           `envconfig:"INVITES_TRIGGER_RATE_LIMIT" default:"30"`
	TriggerRateWindow time.Duration `envconfig:"INVITES_TRIGGER_RATE_WINDOW" default:"1m"`
	// Key the limit on the last X-Forwarded-For hop; enable only behind a proxy that appends it.
	TrustProxyHeaders bool `envconfig:"INVITES_TRUST_PROXY_HEADERS" default:"false"`
}

// ValidateAPI checks the settings the HTTP binary needs: webhook ingestion plus
// the dispatch trigger endpoint.
func (c *Config) ValidateAPI() error {
	var errs error
	errs = multierr.Append(errs, c.validateLedger())
	errs = multierr.Append(errs, c.validateDispatch())
	errs = multierr.Append(errs, requireValue(EnvStripeSecretKey, c.Stripe.APIKey))
	errs = multierr.Append(errs, requireValue(EnvStripeWebhookSecret, c.Stripe.WebhookSecret))
	errs = multierr.Append(errs, requireValue(EnvCronSecret, c.Invites.CronSecret))
	return missing(errs)
}

// ValidateWorker checks the settings the scheduled dispatcher needs.
func (c *Config) ValidateWorker() error {
	var errs error
	errs = multierr.Append(errs, c.validateLedger())
	errs = multierr.Append(errs, c.validateDispatch())
	if !c.Redis.Enabled() {
		errs = multierr.Append(errs, fmt.Errorf("%s or %s is required", EnvRedisURL, EnvRedisAddr))
	}
	return missing(errs)
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Normalized() {
	case LedgerBackendSheets:
		var errs error
		errs = multierr.Append(errs, requireValue(EnvSheetsID, c.Sheets.SpreadsheetID))
		if strings.TrimSpace(c.Sheets.ServiceAccountKeyB64) == "" && strings.TrimSpace(c.Sheets.CredentialsFile) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s or %s is required", EnvSheetsServiceAccountKey, EnvGoogleCredentials))
		}
		return errs
	case LedgerBackendPostgres:
		return requireValue(EnvDBDSN, c.DB.DSN)
	case LedgerBackendSQLite:
		return requireValue(EnvSQLitePath, c.DB.SQLitePath)
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvLedgerBackend, LedgerBackendSheets, LedgerBackendPostgres, LedgerBackendSQLite)
	}
}

func (c *Config) validateDispatch() error {
	var errs error
	if err := requireValue(EnvInviteBaseURL, c.Invites.BaseURL); err != nil {
		errs = multierr.Append(errs, err)
	} else if u, err := url.Parse(c.Invites.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("%s must be an absolute url", EnvInviteBaseURL))
	}
	if c.Invites.MaxPerRun <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvMaxPerRun))
	}
	if !c.Invites.DryRun {
		errs = multierr.Append(errs, requireValue(EnvResendAPIKey, c.Resend.APIKey))
		errs = multierr.Append(errs, requireValue(EnvResendFrom, c.Resend.From))
	}
	if c.Invites.ClaimEnabled && !c.Redis.Enabled() {
		errs = multierr.Append(errs, fmt.Errorf("%s requires %s", EnvClaimEnabled, EnvRedisURL))
	}
	return errs
}

func requireValue(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is missing", name)
	}
	return nil
}

func missing(errs error) error {
	if errs == nil {
		return nil
	}
	problems := multierr.Errors(errs)
	messages := make([]string, 0, len(problems))
	for _, p := range problems {
		messages = append(messages, p.Error())
	}
	return pkgerrors.Wrap(pkgerrors.CodeConfigurationMissing, errs, strings.Join(messages, "; ")).
		WithDetails(map[string]any{"missing": messages})
}

func (db *DBConfig) ensureDSN(ledger LedgerConfig) error {
	if ledger.Normalized() != LedgerBackendPostgres || db.DSN == "" {
		return nil
	}
	if _, err := url.Parse(db.DSN); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConfigurationMissing, err, fmt.Sprintf("%s is not a valid url", EnvDBDSN))
	}
	return nil
}
