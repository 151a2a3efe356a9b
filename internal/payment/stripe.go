package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type StripeConfig struct {
	SecretKey string
	// BackendURL overrides the Stripe API endpoint. Empty means the public API.
	BackendURL string
	Timeout    time.Duration
}

type StripeGateway struct {
	api     *client.API
	timeout time.Duration
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(cfg.BackendURL),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeGateway{api: sc, timeout: timeout}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount int64, currency string) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Intent{Reference: pi.ID, Secret: pi.ClientSecret}, nil
}

func (g *StripeGateway) UpdateIntent(ctx context.Context, reference string, amount int64) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount: stripe.Int64(amount),
	}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Update(reference, params); err != nil {
		return fmt.Errorf("update payment intent %s: %w", reference, err)
	}
	return nil
}
