package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/invite-ledger/pkg/config"
	"github.com/angelmondragon/invite-ledger/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

// sessionExpansions are the objects a purchase row is built from.
var sessionExpansions = []string{"customer", "subscription", "customer_details"}

// Client verifies webhook events for one Stripe mode and reads back the
// checkout sessions they refer to.
type Client struct {
	environment   string
	signingSecret string
	api           *stripe.Client
}

// NewClient checks that the key belongs to the configured mode, so a test
// deployment can never be pointed at live purchases by a swapped key.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	if env != testEnv && env != liveEnv {
		return nil, errInvalidStripeEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe api key is required")
	}
	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if !strings.HasPrefix(signingSecret, "whsec_") {
		return nil, errors.New("stripe webhook secret (whsec_...) is required")
	}
	if !keyMatchesEnv(env, apiKey) {
		return nil, fmt.Errorf("stripe environment %q requires a %s secret key (sk_%s/rk_%s)", env, env, env, env)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		api:           stripe.NewClient(apiKey),
	}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// AcceptsLivemode reports whether an event with the given livemode flag
// belongs to this deployment.
func (c *Client) AcceptsLivemode(live bool) bool {
	if c == nil {
		return false
	}
	return live == (c.environment == liveEnv)
}

// GetCheckoutSession retrieves a checkout session with its customer,
// subscription and customer details expanded.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("checkout session id required")
	}
	if c == nil || c.api == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params := &stripe.CheckoutSessionRetrieveParams{}
	for _, field := range sessionExpansions {
		params.AddExpand(field)
	}
	cs, err := c.api.V1CheckoutSessions.Retrieve(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}
	if !c.AcceptsLivemode(cs.Livemode) {
		return nil, fmt.Errorf("checkout session %s livemode=%t does not match stripe env %q", id, cs.Livemode, c.environment)
	}
	return cs, nil
}

func keyMatchesEnv(env, key string) bool {
	return strings.HasPrefix(key, "sk_"+env+"_") || strings.HasPrefix(key, "rk_"+env+"_")
}
