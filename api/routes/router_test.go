package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/invite-ledger/internal/dispatch"
	stripewebhook "github.com/angelmondragon/invite-ledger/internal/webhooks/stripe"
	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
	"github.com/angelmondragon/invite-ledger/pkg/metrics"
	"github.com/angelmondragon/invite-ledger/pkg/redis"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubRunner struct {
	calls int
	limit int
}

func (s *stubRunner) RunBatch(ctx context.Context, limit int) (dispatch.BatchResult, error) {
	s.calls++
	s.limit = limit
	return dispatch.BatchResult{Processed: 0}, nil
}

func (s *stubRunner) DryRun() bool   { return false }
func (s *stubRunner) MaxPerRun() int { return 20 }

type stubSigner struct{ secret string }

func (s stubSigner) SigningSecret() string          { return s.secret }
func (s stubSigner) AcceptsLivemode(live bool) bool { return !live }

type stubWebhookService struct{ calls int }

func (s *stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error) {
	s.calls++
	return stripewebhook.Outcome{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		Invites: config.InvitesConfig{
			CronSecret:        "s3cret",
			MaxPerRun:         20,
			TriggerRateLimit:  30,
			TriggerRateWindow: time.Minute,
		},
	}
}

type routerDeps struct {
	ledger   stubPinger
	runner   *stubRunner
	webhooks *stubWebhookService
	registry *prometheus.Registry
}

func newTestRouter(cfg *config.Config, deps routerDeps) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	if deps.runner == nil {
		deps.runner = &stubRunner{}
	}
	if deps.webhooks == nil {
		deps.webhooks = &stubWebhookService{}
	}
	if deps.registry == nil {
		deps.registry = prometheus.NewRegistry()
	}
	return NewRouter(
		cfg,
		logg,
		deps.ledger,
		(*redis.Client)(nil),
		deps.runner,
		stubSigner{secret: "whsec_test"},
		deps.webhooks,
		(*stripewebhook.IdempotencyGuard)(nil),
		deps.registry,
	)
}

func serve(router http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthLiveRoute(t *testing.T) {
	rec := serve(newTestRouter(testConfig(), routerDeps{}), http.MethodGet, "/health/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header from middleware")
	}
}

func TestHealthReadyReportsLedgerFailure(t *testing.T) {
	router := newTestRouter(testConfig(), routerDeps{ledger: stubPinger{err: errors.New("sheet gone")}})
	rec := serve(router, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestInvitesRunRequiresSecret(t *testing.T) {
	runner := &stubRunner{}
	router := newTestRouter(testConfig(), routerDeps{runner: runner})

	rec := serve(router, http.MethodGet, "/api/invites/run", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatal("runner must not be reached without the secret")
	}
}

func TestInvitesRunWithSecret(t *testing.T) {
	runner := &stubRunner{}
	router := newTestRouter(testConfig(), routerDeps{runner: runner})

	rec := serve(router, http.MethodGet, "/api/invites/run?token=s3cret&limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if runner.calls != 1 || runner.limit != 3 {
		t.Fatalf("expected one call with limit 3, got calls=%d limit=%d", runner.calls, runner.limit)
	}
}

func TestInvitesRunRejectsPost(t *testing.T) {
	rec := serve(newTestRouter(testConfig(), routerDeps{}), http.MethodPost, "/api/invites/run?token=s3cret", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestStripeWebhookRequiresSignature(t *testing.T) {
	svc := &stubWebhookService{}
	router := newTestRouter(testConfig(), routerDeps{webhooks: svc})

	rec := serve(router, http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatal("unsigned payloads must not reach the service")
	}
}

func TestMetricsRouteServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewInviteMetrics(registry)
	m.IncIngest("appended")

	rec := serve(newTestRouter(testConfig(), routerDeps{registry: registry}), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invite_ingest_total") {
		t.Fatalf("expected ingest counter in output, got %s", rec.Body.String())
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	rec := serve(newTestRouter(testConfig(), routerDeps{}), http.MethodGet, "/api/v1/orders", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
