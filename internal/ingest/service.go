// Package ingest records each distinct purchase in the ledger exactly once.
package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

const (
	outcomeAppended  = "appended"
	outcomeSkipped   = "skipped"
	outcomeInvalid   = "invalid"
	outcomeLedgerErr = "ledger_error"
)

type outcomeRecorder interface {
	IncIngest(outcome string)
}

// Ingestor is the surface the webhook adapter depends on.
type Ingestor interface {
	Ingest(ctx context.Context, event PurchaseEvent) (Result, error)
}

// ServiceParams wires the ingestor.
type ServiceParams struct {
	Store   ledger.Store
	Logger  *logger.Logger
	Metrics outcomeRecorder
	Clock   func() time.Time
}

// Service deduplicates events on (email, source event id) and appends new ones.
// The lookup and the append are separate ledger calls; on backends without a
// uniqueness constraint two concurrent deliveries of the same event can both
// append.
type Service struct {
	store    ledger.Store
	logg     *logger.Logger
	metrics  outcomeRecorder
	clock    func() time.Time
	validate *validator.Validate
}

var _ Ingestor = (*Service)(nil)

// NewService validates dependencies and returns an ingestor.
func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:    params.Store,
		logg:     params.Logger,
		metrics:  params.Metrics,
		clock:    clock,
		validate: newValidator(),
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// Ingest appends the event unless a row with the same key already exists.
func (s *Service) Ingest(ctx context.Context, event PurchaseEvent) (Result, error) {
	event = event.normalized()
	ctx = s.logg.WithEventID(ctx, event.SourceEventID)

	if err := s.validate.Struct(event); err != nil {
		s.record(outcomeInvalid)
		return Result{}, invalidEvent(err)
	}

	key := ledger.NewKey(event.Email, event.SourceEventID)
	existing, err := s.store.FindByKey(ctx, key)
	if err != nil {
		s.record(outcomeLedgerErr)
		s.logg.Error(ctx, "ledger lookup failed", err)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "ledger lookup failed")
	}
	if existing != nil {
		s.record(outcomeSkipped)
		s.logg.Info(s.logg.WithRowID(ctx, existing.ID), "purchase already recorded")
		return Result{Skipped: true, RowID: existing.ID}, nil
	}

	row, err := s.store.Append(ctx, ledger.Row{
		CreatedAt:      s.clock().UTC(),
		Email:          event.Email,
		Name:           event.Name,
		Phone:          event.Phone,
		Address:        event.Address,
		SourceEventID:  event.SourceEventID,
		CustomerID:     event.CustomerID,
		SubscriptionID: event.SubscriptionID,
		State:          enums.FulfillmentStateUnfulfilled,
	})
	if errors.Is(err, ledger.ErrDuplicate) {
		s.record(outcomeSkipped)
		s.logg.Info(ctx, "purchase recorded concurrently")
		return Result{Skipped: true}, nil
	}
	if err != nil {
		s.record(outcomeLedgerErr)
		s.logg.Error(ctx, "ledger append failed", err)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeLedgerUnavailable, err, "ledger append failed")
	}

	s.record(outcomeAppended)
	s.logg.Info(s.logg.WithRowID(ctx, row.ID), "purchase recorded")
	return Result{RowID: row.ID}, nil
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.IncIngest(outcome)
	}
}

func invalidEvent(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := map[string]string{}
		for _, fe := range verrs {
			switch fe.Tag() {
			case "required":
				details[fe.Field()] = "is required"
			default:
				details[fe.Field()] = "is invalid"
			}
		}
		return pkgerrors.New(pkgerrors.CodeInvalidEvent, "purchase event is missing required fields").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInvalidEvent, err, "purchase event is invalid")
}
