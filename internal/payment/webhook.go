package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	eventChargeSucceeded        = "charge.succeeded"
	eventChargeFailed           = "charge.failed"
	eventPaymentIntentSucceeded = "payment_intent.succeeded"
	eventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// StripeWebhook verifies the Stripe-Signature header against the endpoint
// secret and maps the event onto a settlement outcome.
type StripeWebhook struct {
	secret string
}

func NewStripeWebhook(secret string) *StripeWebhook {
	return &StripeWebhook{secret: secret}
}

// Verify checks the signature before decoding, so only a bad signature
// yields ErrInvalidSignature; a signed body that does not decode is
// ErrMalformedEvent. The event's API version is not checked.
func (w *StripeWebhook) Verify(payload []byte, signature string) (*SettlementEvent, error) {
	if err := webhook.ValidatePayload(payload, signature, w.secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return settlementFromEvent(event)
}

func settlementFromEvent(event stripe.Event) (*SettlementEvent, error) {
	s := &SettlementEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return s, nil
	}

	switch s.Type {
	case eventChargeSucceeded, eventChargeFailed:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if charge.PaymentIntent != nil {
			s.Reference = charge.PaymentIntent.ID
		}
		switch charge.Status {
		case stripe.ChargeStatusSucceeded:
			s.Outcome = OutcomeSucceeded
		case stripe.ChargeStatusFailed:
			s.Outcome = OutcomeFailed
		}
	case eventPaymentIntentSucceeded, eventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		s.Reference = pi.ID
		if s.Type == eventPaymentIntentSucceeded {
			s.Outcome = OutcomeSucceeded
		} else {
			s.Outcome = OutcomeFailed
		}
	}
	return s, nil
}

// SignPayload builds a Stripe-Signature header value for payload, the same
// way Stripe signs webhook deliveries. It lets the mock gateway and local
// tooling produce events the verifier accepts.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
