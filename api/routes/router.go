package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/invite-ledger/api/controllers"
	"github.com/angelmondragon/invite-ledger/api/controllers/invites"
	webhookcontrollers "github.com/angelmondragon/invite-ledger/api/controllers/webhooks"
	"github.com/angelmondragon/invite-ledger/api/middleware"
	"github.com/angelmondragon/invite-ledger/internal/dispatch"
	stripewebhook "github.com/angelmondragon/invite-ledger/internal/webhooks/stripe"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/redis"
)

type pinger interface {
	Ping(context.Context) error
}

type signingSecretSource interface {
	SigningSecret() string
	AcceptsLivemode(live bool) bool
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// NewRouter mounts the health probes, the Stripe webhook, the dispatch trigger
// and the metrics endpoint. redisClient and stripeWebhookGuard may be nil; the
// trigger is then not rate limited and webhook retries rely on ledger dedup.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	ledgerP pinger,
	redisClient *redis.Client,
	runner dispatch.Runner,
	stripeClient signingSecretSource,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
	)

	checks := []controllers.ReadinessCheck{{Name: "ledger", Pinger: ledgerP}}
	var limiter rateLimiter
	if redisClient != nil {
		checks = append(checks, controllers.ReadinessCheck{Name: "redis", Pinger: redisClient})
		limiter = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks...))
	})

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
	})

	triggerPolicy := middleware.NewRateLimitPolicy(
		"invites_run",
		cfg.Invites.TriggerRateWindow,
		cfg.Invites.TriggerRateLimit,
	).TrustForwardedFor(cfg.Invites.TrustProxyHeaders)
	r.Route("/api/invites", func(r chi.Router) {
		r.With(middleware.RateLimit(triggerPolicy, limiter, logg)).Get("/run", invites.Run(runner, cfg.Invites.CronSecret, logg))
	})

	return r
}
