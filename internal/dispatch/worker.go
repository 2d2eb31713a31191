// Package dispatch sends invitations for unfulfilled ledger rows and marks
// them fulfilled once the notifier confirms delivery.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/internal/notifications"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/token"
)

// Status is the outcome of one row in a batch.
type Status string

const (
	StatusFulfilled        Status = "fulfilled"
	StatusNotifierFailed   Status = "notifier_failed"
	StatusDryRunSkipped    Status = "dry_run_skipped"
	StatusClaimedElsewhere Status = "claimed_elsewhere"
	StatusAlreadyFulfilled Status = "already_fulfilled"
	StatusClaimFailed      Status = "claim_failed"
	StatusTokenFailed      Status = "token_failed"
	StatusMarkFailed       Status = "mark_failed"
)

// DefaultMaxPerRun bounds a batch when no cap is configured.
const DefaultMaxPerRun = 20

// RowResult reports what happened to one selected row.
type RowResult struct {
	RowID  int64  `json:"rowId"`
	Email  string `json:"email"`
	Token  string `json:"token,omitempty"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates one RunBatch call.
type BatchResult struct {
	DryRun    bool        `json:"dryRun"`
	Processed int         `json:"processed"`
	Fulfilled int         `json:"fulfilled"`
	Results   []RowResult `json:"results"`
}

type statusRecorder interface {
	IncDispatch(status string)
	ObserveBatch(duration time.Duration)
}

// Runner is the surface the trigger endpoint and the cron job depend on.
type Runner interface {
	RunBatch(ctx context.Context, limit int) (BatchResult, error)
	DryRun() bool
	MaxPerRun() int
}

// WorkerParams wires the worker.
type WorkerParams struct {
	Store     ledger.Store
	Notifier  notifications.Notifier
	Tokens    token.Generator
	Claimer   Claimer
	BaseURL   string
	MaxPerRun int
	DryRun    bool
	Logger    *logger.Logger
	Metrics   statusRecorder
	Clock     func() time.Time
}

// Worker processes rows one at a time; it never appends to the ledger and
// only ever writes the fulfillment fields of rows it selected.
type Worker struct {
	store     ledger.Store
	notifier  notifications.Notifier
	tokens    token.Generator
	claimer   Claimer
	recheck   bool
	baseURL   string
	maxPerRun int
	dryRun    bool
	logg      *logger.Logger
	metrics   statusRecorder
	clock     func() time.Time
}

var _ Runner = (*Worker)(nil)

// NewWorker validates the wiring. A notifier is optional only in dry run.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	if params.Notifier == nil && !params.DryRun {
		return nil, pkgerrors.New(pkgerrors.CodeConfigurationMissing, "notifier required unless dry run is enabled")
	}
	if _, err := BuildReference(params.BaseURL, "0000"); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfigurationMissing, err, "invalid invite base url")
	}
	w := &Worker{
		store:     params.Store,
		notifier:  params.Notifier,
		tokens:    params.Tokens,
		claimer:   params.Claimer,
		recheck:   params.Claimer != nil,
		baseURL:   params.BaseURL,
		maxPerRun: params.MaxPerRun,
		dryRun:    params.DryRun,
		logg:      params.Logger,
		metrics:   params.Metrics,
		clock:     params.Clock,
	}
	if w.tokens == nil {
		w.tokens = token.NewGenerator()
	}
	if w.claimer == nil {
		w.claimer = NoopClaimer{}
	}
	if w.maxPerRun <= 0 {
		w.maxPerRun = DefaultMaxPerRun
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	return w, nil
}

func (w *Worker) DryRun() bool   { return w.dryRun }
func (w *Worker) MaxPerRun() int { return w.maxPerRun }

// RunBatch selects up to limit unfulfilled rows (the configured cap when limit
// is not positive or exceeds it) and dispatches them sequentially. Only a
// failure to read the ledger fails the batch; every per-row failure is
// reported in the result and the batch moves on.
func (w *Worker) RunBatch(ctx context.Context, limit int) (BatchResult, error) {
	started := w.clock()
	if limit <= 0 || limit > w.maxPerRun {
		limit = w.maxPerRun
	}
	ctx = w.logg.WithFields(ctx, map[string]any{"limit": limit, "dry_run": w.dryRun})

	rows, err := w.store.ListUnfulfilled(ctx, limit)
	if err != nil {
		w.logg.Error(ctx, "ledger read failed", err)
		return BatchResult{}, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "list unfulfilled ledger rows")
	}

	result := BatchResult{DryRun: w.dryRun, Results: make([]RowResult, 0, len(rows))}
	for _, row := range rows {
		outcome := w.dispatchRow(w.logg.WithInvite(ctx, row.ID, row.Email), row)
		result.Processed++
		if outcome.Status == StatusFulfilled {
			result.Fulfilled++
		}
		result.Results = append(result.Results, outcome)
		w.recordStatus(outcome.Status)
	}

	if w.metrics != nil {
		w.metrics.ObserveBatch(w.clock().Sub(started))
	}
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"processed": result.Processed,
		"fulfilled": result.Fulfilled,
	}), "dispatch batch finished")
	return result, nil
}

func (w *Worker) dispatchRow(ctx context.Context, row ledger.Row) RowResult {
	out := RowResult{RowID: row.ID, Email: row.Email}

	claimed, err := w.claimer.Claim(ctx, row.ID)
	if err != nil {
		w.logg.Warn(ctx, fmt.Sprintf("claim failed: %v", err))
		out.Status, out.Error = StatusClaimFailed, err.Error()
		return out
	}
	if !claimed {
		w.logg.Info(ctx, "row claimed by another run")
		out.Status = StatusClaimedElsewhere
		return out
	}
	// Once the notifier has been called the lease is left to expire, so a run
	// working from an older row list cannot claim the row again in the meantime.
	keepLease := false
	defer func() {
		if keepLease {
			return
		}
		if err := w.claimer.Release(ctx, row.ID); err != nil {
			w.logg.Warn(ctx, fmt.Sprintf("claim release failed: %v", err))
		}
	}()

	if w.recheck {
		current, err := w.store.FindByKey(ctx, row.Key())
		if err != nil {
			w.logg.Warn(ctx, fmt.Sprintf("re-read after claim failed: %v", err))
			out.Status, out.Error = StatusClaimFailed, err.Error()
			return out
		}
		if current != nil && current.Fulfilled() {
			w.logg.Info(ctx, "row fulfilled by another run")
			out.Status = StatusAlreadyFulfilled
			return out
		}
	}

	code, err := w.tokens.New()
	if err != nil {
		w.logg.Error(ctx, "token generation failed", err)
		out.Status, out.Error = StatusTokenFailed, err.Error()
		return out
	}
	out.Token = code

	if w.dryRun {
		out.Status = StatusDryRunSkipped
		return out
	}

	reference, err := BuildReference(w.baseURL, code)
	if err != nil {
		out.Status, out.Error = StatusNotifierFailed, err.Error()
		return out
	}

	keepLease = true
	receipt, err := w.notifier.Send(ctx, notifications.Invitation{
		To:        row.Email,
		Name:      row.Name,
		Reference: reference,
		Token:     code,
	})
	if err != nil {
		w.logg.Warn(ctx, fmt.Sprintf("invitation not delivered: %v", err))
		out.Status, out.Error = StatusNotifierFailed, err.Error()
		return out
	}

	update := ledger.NewFulfillmentUpdate(code, w.note(receipt))
	if err := w.store.UpdateFields(ctx, row.ID, update); err != nil {
		// The invitation went out but the row still reads unfulfilled, so a
		// later run will send it again.
		w.logg.Error(ctx, "invitation sent but ledger mark failed", err)
		out.Status, out.Error = StatusMarkFailed, err.Error()
		return out
	}

	out.Status = StatusFulfilled
	return out
}

func (w *Worker) note(receipt notifications.Receipt) string {
	parts := []string{"invited " + w.clock().UTC().Format(time.RFC3339)}
	if receipt.Provider != "" {
		parts = append(parts, "via "+receipt.Provider)
	}
	if receipt.MessageID != "" {
		parts = append(parts, "id="+receipt.MessageID)
	}
	return strings.Join(parts, " ")
}

func (w *Worker) recordStatus(status Status) {
	if w.metrics != nil {
		w.metrics.IncDispatch(string(status))
	}
}
