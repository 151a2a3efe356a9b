package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway hands out local intent references and never talks to a real
// processor. Used in development and tests.
type MockGateway struct {
	mu      sync.Mutex
	amounts map[string]int64
}

func NewMockGateway() *MockGateway {
	return &MockGateway{amounts: make(map[string]int64)}
}

func (g *MockGateway) CreateIntent(_ context.Context, amount int64, _ string) (*Intent, error) {
	ref := "pi_mock_" + uuid.NewString()
	g.mu.Lock()
	g.amounts[ref] = amount
	g.mu.Unlock()
	return &Intent{Reference: ref, Secret: fmt.Sprintf("%s_secret_%s", ref, uuid.NewString())}, nil
}

func (g *MockGateway) UpdateIntent(_ context.Context, reference string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.amounts[reference]; !ok {
		return fmt.Errorf("no such payment intent: %s", reference)
	}
	g.amounts[reference] = amount
	return nil
}

// Amount returns the last amount recorded for reference.
func (g *MockGateway) Amount(reference string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.amounts[reference]
	return a, ok
}

// SettlementPayload builds a signed charge event for reference, as the
// processor would deliver it to the webhook.
func SettlementPayload(secret, eventID, reference string, succeeded bool) ([]byte, string) {
	status, eventType := "succeeded", eventChargeSucceeded
	if !succeeded {
		status, eventType = "failed", eventChargeFailed
	}
	payload, _ := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             "ch_" + uuid.NewString(),
				"object":         "charge",
				"status":         status,
				"payment_intent": reference,
			},
		},
	})
	return payload, SignPayload(payload, secret, time.Now())
}
