package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func TestStripeGateway_CreateAndUpdate(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		calls = append(calls, r.Method+" "+r.URL.Path+" amount="+r.PostForm.Get("amount"))
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/payment_intents":
			assert.Equal(t, "nzd", r.PostForm.Get("currency"))
			_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","client_secret":"pi_123_secret_abc","amount":4500,"currency":"nzd"}`))
		case "/v1/payment_intents/pi_123":
			_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":6000,"currency":"nzd"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BackendURL: srv.URL, Timeout: time.Second})

	intent, err := g.CreateIntent(context.Background(), 4500, "nzd")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Reference)
	assert.Equal(t, "pi_123_secret_abc", intent.Secret)

	require.NoError(t, g.UpdateIntent(context.Background(), "pi_123", 6000))

	assert.Equal(t, []string{
		"POST /v1/payment_intents amount=4500",
		"POST /v1/payment_intents/pi_123 amount=6000",
	}, calls)
}

func TestStripeGateway_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Amount must be at least 50 cents"}}`))
	}))
	defer srv.Close()

	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BackendURL: srv.URL})

	_, err := g.CreateIntent(context.Background(), 1, "nzd")
	assert.ErrorContains(t, err, "create payment intent")
}

func chargeEvent(t *testing.T, eventType, status, reference string) []byte {
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "ch_1",
				"object":         "charge",
				"status":         status,
				"payment_intent": reference,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestStripeWebhook_Verify(t *testing.T) {
	w := NewStripeWebhook(testSecret)

	tests := []struct {
		name      string
		payload   []byte
		reference string
		outcome   Outcome
	}{
		{
			name:      "charge succeeded",
			payload:   chargeEvent(t, "charge.succeeded", "succeeded", "pi_1"),
			reference: "pi_1",
			outcome:   OutcomeSucceeded,
		},
		{
			name:      "charge failed",
			payload:   chargeEvent(t, "charge.failed", "failed", "pi_2"),
			reference: "pi_2",
			outcome:   OutcomeFailed,
		},
		{
			name:      "charge pending is ignored",
			payload:   chargeEvent(t, "charge.succeeded", "pending", "pi_3"),
			reference: "pi_3",
			outcome:   OutcomeIgnored,
		},
		{
			name:      "payment intent failed",
			payload:   []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_4","object":"payment_intent"}}}`),
			reference: "pi_4",
			outcome:   OutcomeFailed,
		},
		{
			name:    "unrelated event",
			payload: []byte(`{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`),
			outcome: OutcomeIgnored,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := w.Verify(tc.payload, SignPayload(tc.payload, testSecret, time.Now()))
			require.NoError(t, err)
			assert.Equal(t, tc.reference, ev.Reference)
			assert.Equal(t, tc.outcome, ev.Outcome)
			assert.NotEmpty(t, ev.ID)
		})
	}
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	w := NewStripeWebhook(testSecret)
	payload := chargeEvent(t, "charge.succeeded", "succeeded", "pi_1")

	_, err := w.Verify(payload, SignPayload(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = w.Verify(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := []byte(strings.Replace(string(payload), "pi_1", "pi_9", 1))
	_, err = w.Verify(tampered, SignPayload(payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = w.Verify(payload, SignPayload(payload, testSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeWebhook_SignedButUnparseable(t *testing.T) {
	w := NewStripeWebhook(testSecret)
	payload := []byte(`{"id": "evt_1", "type": `)

	_, err := w.Verify(payload, SignPayload(payload, testSecret, time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.NotErrorIs(t, err, ErrInvalidSignature)

	_, err = w.Verify(payload, SignPayload(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMockGateway(t *testing.T) {
	g := NewMockGateway()
	ctx := context.Background()

	intent, err := g.CreateIntent(ctx, 4500, "nzd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.Reference, "pi_mock_"))
	assert.True(t, strings.HasPrefix(intent.Secret, intent.Reference+"_secret_"))

	require.NoError(t, g.UpdateIntent(ctx, intent.Reference, 6000))
	amount, ok := g.Amount(intent.Reference)
	require.True(t, ok)
	assert.Equal(t, int64(6000), amount)

	assert.Error(t, g.UpdateIntent(ctx, "pi_unknown", 1))
}

func TestSettlementPayload_Verifies(t *testing.T) {
	payload, sig := SettlementPayload(testSecret, "evt_9", "pi_mock_1", false)

	ev, err := NewStripeWebhook(testSecret).Verify(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, "evt_9", ev.ID)
	assert.Equal(t, "pi_mock_1", ev.Reference)
	assert.Equal(t, OutcomeFailed, ev.Outcome)
}

type failingGateway struct {
	calls atomic.Int32
	err   error
}

func (f *failingGateway) CreateIntent(context.Context, int64, string) (*Intent, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *failingGateway) UpdateIntent(context.Context, string, int64) error {
	f.calls.Add(1)
	return f.err
}

func TestBreakerGateway_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingGateway{err: errors.New("gateway down")}
	b := NewBreakerGateway(inner, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.CreateIntent(ctx, 100, "nzd")
		assert.ErrorContains(t, err, "gateway down")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.UpdateIntent(ctx, "pi_1", 100)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestBreakerGateway_CancelledCallsDoNotTrip(t *testing.T) {
	inner := &failingGateway{err: context.Canceled}
	b := NewBreakerGateway(inner, BreakerSettings{ConsecutiveFailures: 2})

	for i := 0; i < 5; i++ {
		_, _ = b.CreateIntent(context.Background(), 100, "nzd")
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerGateway_PassesThrough(t *testing.T) {
	b := NewBreakerGateway(NewMockGateway(), BreakerSettings{})

	intent, err := b.CreateIntent(context.Background(), 100, "nzd")
	require.NoError(t, err)
	assert.NoError(t, b.UpdateIntent(context.Background(), intent.Reference, 200))
}
