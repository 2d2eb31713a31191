package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/invite-ledger/internal/ingest"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

// sessionFetcher re-reads a checkout session with related objects expanded.
type sessionFetcher interface {
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
}

// Outcome tells the controller how the event was handled.
type Outcome struct {
	Ignored string
	Skipped bool
	RowID   int64
}

type ServiceParams struct {
	Ingestor ingest.Ingestor
	Sessions sessionFetcher
	Logger   *logger.Logger
}

// Service turns completed checkout sessions into purchase events.
type Service struct {
	ingestor ingest.Ingestor
	sessions sessionFetcher
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ingestor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ingestor required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		ingestor: params.Ingestor,
		sessions: params.Sessions,
		logg:     params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInvalidEvent, "stripe event data required")
	}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return Outcome{Ignored: string(event.Type)}, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInvalidEvent, err, "decode checkout session")
	}

	resolved := s.expand(ctx, &session)
	purchase := PurchaseFromSession(resolved)
	if purchase.Email == "" || purchase.SourceEventID == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInvalidEvent, "missing email or session id")
	}

	res, err := s.ingestor.Ingest(ctx, purchase)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Skipped: res.Skipped, RowID: res.RowID}, nil
}

// expand prefers the API's view of the session. Sessions built by test
// fixtures cannot always be retrieved, so the event payload is the fallback.
func (s *Service) expand(ctx context.Context, session *stripe.CheckoutSession) *stripe.CheckoutSession {
	if s.sessions == nil || session.ID == "" {
		return session
	}
	fetched, err := s.sessions.GetCheckoutSession(ctx, session.ID)
	if err != nil || fetched == nil {
		s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID),
			fmt.Sprintf("checkout session retrieve failed, using event payload: %v", err))
		return session
	}
	return fetched
}

// PurchaseFromSession maps a checkout session onto a purchase event.
func PurchaseFromSession(session *stripe.CheckoutSession) ingest.PurchaseEvent {
	if session == nil {
		return ingest.PurchaseEvent{}
	}
	event := ingest.PurchaseEvent{SourceEventID: strings.TrimSpace(session.ID)}
	if details := session.CustomerDetails; details != nil {
		event.Email = details.Email
		event.Name = details.Name
		event.Phone = details.Phone
		event.Address = NormalizeAddress(details.Address)
	}
	if event.Email == "" {
		event.Email = session.CustomerEmail
	}
	if session.Customer != nil {
		event.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		event.SubscriptionID = session.Subscription.ID
	}
	event.Email = strings.TrimSpace(event.Email)
	return event
}

// NormalizeAddress joins postal code, state, city, line1 and line2 with single
// spaces, dropping empty parts.
func NormalizeAddress(addr *stripe.Address) string {
	if addr == nil {
		return ""
	}
	parts := make([]string, 0, 5)
	for _, part := range []string{addr.PostalCode, addr.State, addr.City, addr.Line1, addr.Line2} {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
