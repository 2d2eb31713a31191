package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/invite-ledger/api/routes"
	"github.com/angelmondragon/invite-ledger/internal/dispatch"
	"github.com/angelmondragon/invite-ledger/internal/ingest"
	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/internal/ledger/backend"
	"github.com/angelmondragon/invite-ledger/internal/notifications"
	stripewebhook "github.com/angelmondragon/invite-ledger/internal/webhooks/stripe"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/metrics"
	"github.com/angelmondragon/invite-ledger/pkg/redis"
	"github.com/angelmondragon/invite-ledger/pkg/resend"
	"github.com/angelmondragon/invite-ledger/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		logg.Error(context.Background(), "invalid configuration", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	bootCtx := context.Background()

	ledgerHandle, err := backend.Open(bootCtx, cfg, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to open ledger", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(bootCtx, cfg.Redis, logg)
		if err != nil {
			logg.Error(bootCtx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(bootCtx, "redis not configured; webhook guard, claims and trigger throttling disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	inviteMetrics := metrics.NewInviteMetrics(registry)

	stripeClient, err := stripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to configure stripe", err)
		os.Exit(1)
	}

	ingestService, err := ingest.NewService(ingest.ServiceParams{
		Store:   ledgerHandle.Store,
		Logger:  logg,
		Metrics: inviteMetrics,
	})
	if err != nil {
		logg.Error(bootCtx, "failed to create ingest service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Ingestor: ingestService,
		Sessions: stripeClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(bootCtx, "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	var webhookGuard *stripewebhook.IdempotencyGuard
	if redisClient != nil {
		webhookGuard, err = stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.IdempotencyTTL, stripewebhook.DefaultGuardScope)
		if err != nil {
			logg.Error(bootCtx, "failed to create stripe webhook guard", err)
			os.Exit(1)
		}
	}

	worker, err := newWorker(cfg, logg, ledgerHandle.Store, redisClient, inviteMetrics)
	if err != nil {
		logg.Error(bootCtx, "failed to create dispatch worker", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(bootCtx, map[string]any{
		"env":            cfg.App.Env,
		"addr":           addr,
		"ledger_backend": ledgerHandle.Backend,
		"dry_run":        cfg.Invites.DryRun,
		"stripe_env":     stripeClient.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			ledgerHandle,
			redisClient,
			worker,
			stripeClient,
			webhookService,
			webhookGuard,
			registry,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	cancel()
	closeErr = multierr.Append(closeErr, ledgerHandle.Close())
	if redisClient != nil {
		closeErr = multierr.Append(closeErr, redisClient.Close())
	}
	if closeErr != nil {
		logg.Error(ctx, "errors during shutdown", closeErr)
		exitCode = 1
	}

	logg.Info(ctx, "api server stopped")
	os.Exit(exitCode)
}

// newWorker wires the dispatch worker used by GET /api/invites/run. The
// notifier is skipped in dry run so no Resend credentials are needed.
func newWorker(cfg *config.Config, logg *logger.Logger, store ledger.Store, redisClient *redis.Client, m *metrics.InviteMetrics) (*dispatch.Worker, error) {
	params := dispatch.WorkerParams{
		Store:     store,
		BaseURL:   cfg.Invites.BaseURL,
		MaxPerRun: cfg.Invites.MaxPerRun,
		DryRun:    cfg.Invites.DryRun,
		Logger:    logg,
		Metrics:   m,
	}

	if !cfg.Invites.DryRun {
		mail, err := resend.NewClient(cfg.Resend)
		if err != nil {
			return nil, err
		}
		notifier, err := notifications.NewEmailNotifier(mail, logg)
		if err != nil {
			return nil, err
		}
		params.Notifier = notifier
	}

	if cfg.Invites.ClaimEnabled && redisClient != nil {
		claimer, err := dispatch.NewRedisClaimer(redisClient, cfg.Invites.ClaimTTL)
		if err != nil {
			return nil, err
		}
		params.Claimer = claimer
	}

	return dispatch.NewWorker(params)
}
