package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const signatureHeader = "Stripe-Signature"

type PaymentService interface {
	CreateOrUpdatePaymentIntent(ctx context.Context, buyer domain.BuyerKey) (*domain.BasketView, error)
	ApplySettlementEvent(ctx context.Context, payload []byte, signature string) error
}

type PaymentsHandler struct {
	payments    PaymentService
	timeout     time.Duration
	maxBodySize int64
}

func NewPaymentsHandler(payments PaymentService, timeout time.Duration, maxBodySize int64) *PaymentsHandler {
	return &PaymentsHandler{
		payments:    payments,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// POST /api/payments
func (h *PaymentsHandler) CreateOrUpdatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.payments.CreateOrUpdatePaymentIntent(ctx, buyerFrom(r))
	if err != nil {
		handleError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/payments/webhook
func (h *PaymentsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Could not read payload")
		return
	}

	// Lookup misses come back as nil; only a failure to record the outcome
	// is a 5xx, which makes the gateway redeliver.
	if err := h.payments.ApplySettlementEvent(ctx, payload, r.Header.Get(signatureHeader)); err != nil {
		handleError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}
