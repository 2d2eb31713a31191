package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/invite-ledger/api/responses"
	pkgerrors "github.com/angelmondragon/invite-ledger/pkg/errors"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Inbound ids are echoed into logs and responses, so only short opaque tokens
// are accepted; anything else is replaced.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// Caller names who sent a request.
type Caller string

const (
	CallerStripe    Caller = "stripe"
	CallerScheduler Caller = "scheduler"
	CallerClient    Caller = "client"
)

// callerOf tells Stripe deliveries and scheduler triggers apart from other
// traffic. It only labels logs; nothing is authorized on it.
func callerOf(r *http.Request) Caller {
	agent := strings.ToLower(r.UserAgent())
	switch {
	case r.Header.Get("Stripe-Signature") != "" || strings.HasPrefix(agent, "stripe/"):
		return CallerStripe
	case strings.HasPrefix(agent, "vercel-cron"), strings.Contains(agent, "cloud-scheduler"):
		return CallerScheduler
	default:
		return CallerClient
	}
}

// RequestID tags the request with an id and its caller. A usable X-Request-Id
// from upstream is kept so a webhook delivery can be traced across retries.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if !requestIDPattern.MatchString(id) {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
				ctx = logg.WithField(ctx, "caller", string(callerOf(r)))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recoverer turns a panic into a 500 INTERNAL_ERROR envelope. For the Stripe
// webhook that means a retry, and the trigger caller sees the run failed.
// http.ErrAbortHandler is re-raised for net/http to handle.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"method": r.Method,
						"path":   r.URL.Path,
					})
					logg.Error(ctx, "panic.recovered", err)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "request panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
