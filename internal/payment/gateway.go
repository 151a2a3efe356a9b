package payment

import (
	"context"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Intent is a gateway payment object a buyer can pay against.
type Intent struct {
	Reference string
	Secret    string
}

// Gateway creates and re-prices payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string) (*Intent, error)
	UpdateIntent(ctx context.Context, reference string, amount int64) error
}

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// SettlementEvent is a verified gateway notification about a payment.
type SettlementEvent struct {
	ID        string
	Type      string
	Reference string
	Outcome   Outcome
}

// Verifier authenticates a webhook payload and decodes it.
type Verifier interface {
	Verify(payload []byte, signature string) (*SettlementEvent, error)
}
