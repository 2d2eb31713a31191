package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"go.uber.org/multierr"

	"github.com/angelmondragon/invite-ledger/api/responses"
	stripewebhook "github.com/angelmondragon/invite-ledger/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/types"
)

// maxPayloadBytes mirrors the limit Stripe's own libraries document.
const maxPayloadBytes = 65536

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
	AcceptsLivemode(live bool) bool
}

// livemodeMismatch is reported for events from the other Stripe mode. They
// are acknowledged so Stripe stops retrying, and never reach the ledger.
const livemodeMismatch = "livemode_mismatch"

type webhookResponse struct {
	types.Ack
	Ignored string `json:"ignored,omitempty"`
	Skipped bool   `json:"skipped"`
}

// StripeWebhook verifies and records checkout.session.completed events. The
// guard is optional; without it Stripe retries are absorbed by ledger dedup.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil || client.SigningSecret() == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfigurationMissing, "stripe webhook secret missing"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}
		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
		}
		if !client.AcceptsLivemode(event.Livemode) {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "livemode", event.Livemode), "stripe event from the other mode ignored")
			}
			responses.WriteSuccess(w, webhookResponse{Ack: types.Ack{OK: true}, Ignored: livemodeMismatch})
			return
		}

		if guard != nil {
			alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if alreadyProcessed {
				responses.WriteSuccess(w, webhookResponse{Ack: types.Ack{OK: true}, Skipped: true})
				return
			}
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if guard != nil {
				if delErr := guard.Delete(ctx, event.ID); delErr != nil {
					// Retries of this event will be skipped until the marker expires.
					if logg != nil {
						logg.Error(ctx, "idempotency marker not released after failed event", delErr)
					}
					err = pkgerrors.Wrap(pkgerrors.CodeDependency, multierr.Combine(err, delErr), "event not recorded and idempotency marker not released")
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.Type))
		}
		responses.WriteSuccess(w, webhookResponse{
			Ack:     types.Ack{OK: true},
			Ignored: outcome.Ignored,
			Skipped: outcome.Skipped,
		})
	}
}
