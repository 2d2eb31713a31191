package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/invite-ledger/internal/dispatch"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

// DispatchJobName labels the scheduled dispatch in logs and cron metrics.
const DispatchJobName = "invite-dispatch"

type DispatchJobParams struct {
	Logger *logger.Logger
	Runner dispatch.Runner
	// Limit is handed to RunBatch; zero means the runner's per-run cap.
	Limit int
}

func NewDispatchJob(params DispatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("dispatch runner required")
	}
	return &dispatchJob{
		logg:   params.Logger,
		runner: params.Runner,
		limit:  params.Limit,
	}, nil
}

type dispatchJob struct {
	logg   *logger.Logger
	runner dispatch.Runner
	limit  int
}

func (j *dispatchJob) Name() string { return DispatchJobName }

// Run executes one batch. Rows that failed stay unfulfilled for the next cycle
// and only count against the tally; the run itself fails only when the batch
// could not start.
func (j *dispatchJob) Run(ctx context.Context) (Tally, error) {
	result, err := j.runner.RunBatch(ctx, j.limit)
	if err != nil {
		return Tally{}, fmt.Errorf("invite dispatch: %w", err)
	}

	tally := Tally{Processed: result.Processed, Fulfilled: result.Fulfilled}
	for _, row := range result.Results {
		if row.Error != "" {
			tally.Failed++
			j.logg.Warn(j.logg.WithRowID(ctx, row.RowID), fmt.Sprintf("row %s: %s", row.Status, row.Error))
		}
	}
	if result.DryRun && result.Processed > 0 {
		j.logg.Info(ctx, "dry run: rows left unfulfilled")
	}
	return tally, nil
}
