package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerGateway stops calling the wrapped gateway after repeated failures
// and fails fast with gobreaker.ErrOpenState until the open timeout passes.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[*Intent]
}

func NewBreakerGateway(next Gateway, s BreakerSettings) *BreakerGateway {
	if s.Name == "" {
		s.Name = "payment-gateway"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*Intent](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// A caller giving up is not the gateway's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerGateway{next: next, cb: cb}
}

func (b *BreakerGateway) CreateIntent(ctx context.Context, amount int64, currency string) (*Intent, error) {
	return b.cb.Execute(func() (*Intent, error) {
		return b.next.CreateIntent(ctx, amount, currency)
	})
}

func (b *BreakerGateway) UpdateIntent(ctx context.Context, reference string, amount int64) error {
	_, err := b.cb.Execute(func() (*Intent, error) {
		return nil, b.next.UpdateIntent(ctx, reference, amount)
	})
	return err
}

func (b *BreakerGateway) State() gobreaker.State {
	return b.cb.State()
}
