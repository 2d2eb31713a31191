package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// Clock is for tests.
	Clock func() time.Time
}

// Service runs the registered jobs in cycles guarded by Lock: a cycle either
// runs every job or, when another worker holds the lock, none.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	clock    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	params.Metrics.Prime(registry.Names(), Outcomes)
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		clock:    clock,
	}, nil
}

func (s *Service) Interval() time.Duration { return s.interval }

// RunOnce runs a single cycle for one-shot invocations. Unlike Run it reports
// failed jobs in the returned error, so a scheduler sees a non-zero exit.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

// Run cycles until ctx is canceled, starting immediately. Job failures are
// logged and the next cycle retries the remaining rows.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "dispatch cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "dispatch cycles stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !locked {
		s.metrics.IncLocked()
		s.logg.Info(s.withHolder(ctx), "dispatch lock held elsewhere; cycle skipped")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "dispatch lock release failed", err)
		}
	}()

	var failures error
	for _, job := range s.registry.Jobs() {
		if err := s.runJob(ctx, job); err != nil {
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return failures
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	started := s.clock()
	tally, err := job.Run(ctx)
	elapsed := s.clock().Sub(started)

	outcome := tally.Outcome()
	if err != nil {
		outcome = OutcomeFailed
	}
	s.metrics.ObserveRun(name, outcome, elapsed)
	s.metrics.AddRows(name, tally.Processed, tally.Fulfilled, tally.Failed)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outcome":     outcome,
		"duration_ms": elapsed.Milliseconds(),
		"processed":   tally.Processed,
		"fulfilled":   tally.Fulfilled,
		"failed_rows": tally.Failed,
	})
	switch outcome {
	case OutcomeFailed:
		s.logg.Error(logCtx, "job failed", err)
	case OutcomePartial:
		s.logg.Warn(logCtx, "job left rows for the next cycle")
	default:
		s.logg.Info(logCtx, "job finished")
	}
	return err
}

func (s *Service) withHolder(ctx context.Context) context.Context {
	reporter, ok := s.lock.(holderReporter)
	if !ok {
		return ctx
	}
	holder, err := reporter.Holder(ctx)
	if err != nil || holder == "" {
		return ctx
	}
	return s.logg.WithField(ctx, "lock_holder", holder)
}
