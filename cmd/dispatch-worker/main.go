package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/invite-ledger/internal/cron"
	"github.com/angelmondragon/invite-ledger/internal/dispatch"
	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/internal/ledger/backend"
	"github.com/angelmondragon/invite-ledger/internal/notifications"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/metrics"
	"github.com/angelmondragon/invite-ledger/pkg/redis"
	"github.com/angelmondragon/invite-ledger/pkg/resend"
)

const lockJob = "dispatch-worker"

func main() {
	once := flag.Bool("once", false, "run a single locked dispatch cycle and exit")
	metricsAddr := flag.String("metrics-addr", "", "listen address for /metrics (disabled when empty)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "dispatch-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorker(); err != nil {
		logg.Error(context.Background(), "invalid configuration", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "dispatch-worker"

	logg = logger.New(logger.Options{
		ServiceName: "dispatch-worker",
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

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		logg.Error(bootCtx, "failed to bootstrap redis", err)
		_ = ledgerHandle.Close()
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	cronMetrics := metrics.NewCronJobMetrics(registry)
	inviteMetrics := metrics.NewInviteMetrics(registry)

	service, err := newService(cfg, logg, ledgerHandle.Store, redisClient, cronMetrics, inviteMetrics)
	if err != nil {
		logg.Error(bootCtx, "failed to create dispatch service", err)
		_ = multierr.Combine(ledgerHandle.Close(), redisClient.Close())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":            cfg.App.Env,
		"serviceKind":    cfg.Service.Kind,
		"ledger_backend": ledgerHandle.Backend,
		"dry_run":        cfg.Invites.DryRun,
		"interval":       service.Interval().String(),
	})

	var metricsServer *http.Server
	if *metricsAddr != "" && !*once {
		metricsServer = &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
	}

	exitCode := 0
	if *once {
		logg.Info(ctx, "running single dispatch cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "dispatch cycle failed", err)
			exitCode = 1
		}
	} else {
		logg.Info(ctx, "starting dispatch worker")
		if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "dispatch worker stopped unexpectedly", err)
			exitCode = 1
		}
	}
	stop()

	var closeErr error
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		closeErr = multierr.Append(closeErr, metricsServer.Shutdown(shutdownCtx))
		cancel()
	}
	closeErr = multierr.Append(closeErr, ledgerHandle.Close())
	closeErr = multierr.Append(closeErr, redisClient.Close())
	if closeErr != nil {
		logg.Error(ctx, "errors during shutdown", closeErr)
		exitCode = 1
	}

	logg.Info(ctx, "dispatch worker shutting down gracefully")
	os.Exit(exitCode)
}

func newService(cfg *config.Config, logg *logger.Logger, store ledger.Store, redisClient *redis.Client, cronMetrics *metrics.CronJobMetrics, inviteMetrics *metrics.InviteMetrics) (*cron.Service, error) {
	params := dispatch.WorkerParams{
		Store:     store,
		BaseURL:   cfg.Invites.BaseURL,
		MaxPerRun: cfg.Invites.MaxPerRun,
		DryRun:    cfg.Invites.DryRun,
		Logger:    logg,
		Metrics:   inviteMetrics,
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
	if cfg.Invites.ClaimEnabled {
		claimer, err := dispatch.NewRedisClaimer(redisClient, cfg.Invites.ClaimTTL)
		if err != nil {
			return nil, err
		}
		params.Claimer = claimer
	}

	worker, err := dispatch.NewWorker(params)
	if err != nil {
		return nil, err
	}

	job, err := cron.NewDispatchJob(cron.DispatchJobParams{Logger: logg, Runner: worker})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, lockJob, 0)
	if err != nil {
		return nil, err
	}

	registry, err := cron.NewRegistry(job)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Invites.DispatchInterval,
	})
}
