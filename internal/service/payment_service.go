package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/payment"
	r "github.com/fjod/storefront/internal/repository"
	"golang.org/x/sync/singleflight"
)

type PaymentRepository interface {
	TxRunner
	GetBasket(ctx context.Context, buyerKey string) (*domain.Basket, error)
	BindPayment(ctx context.Context, basketID int64, reference, secret string) error
}

type PaymentService struct {
	repo     PaymentRepository
	gateway  payment.Gateway
	verifier payment.Verifier
	events   cache.EventLog
	cache    cache.BasketCache
	currency string
	metrics  *metrics.Metrics
	sfg      singleflight.Group // one gateway round trip per buyer at a time
}

type PaymentServiceConfig struct {
	Repo     PaymentRepository
	Gateway  payment.Gateway
	Verifier payment.Verifier
	Events   cache.EventLog
	Cache    cache.BasketCache
	Currency string
	Metrics  *metrics.Metrics
}

func NewPaymentService(cfg PaymentServiceConfig) *PaymentService {
	s := &PaymentService{
		repo:     cfg.Repo,
		gateway:  cfg.Gateway,
		verifier: cfg.Verifier,
		events:   cfg.Events,
		cache:    cfg.Cache,
		currency: cfg.Currency,
		metrics:  cfg.Metrics,
	}
	if s.events == nil {
		s.events = cache.Noop{}
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.currency == "" {
		s.currency = "nzd"
	}
	return s
}

// CreateOrUpdatePaymentIntent prices the buyer's basket from live product
// prices and makes sure exactly one gateway payment intent carries that
// amount. The first intent created for a basket stays bound to it.
func (s *PaymentService) CreateOrUpdatePaymentIntent(ctx context.Context, buyer domain.BuyerKey) (*domain.BasketView, error) {
	v, err, _ := s.sfg.Do(buyer.Key(), func() (interface{}, error) {
		return s.createOrUpdate(ctx, buyer)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.BasketView), nil
}

func (s *PaymentService) createOrUpdate(ctx context.Context, buyer domain.BuyerKey) (*domain.BasketView, error) {
	basket, err := s.repo.GetBasket(ctx, buyer.Key())
	if errors.Is(err, r.ErrBasketNotFound) {
		return nil, domain.NotFound("Basket not found", err)
	}
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load basket", err)
	}
	if basket.IsEmpty() {
		return nil, domain.InvalidState("Basket is empty", nil)
	}

	totals, err := domain.PriceBasket(basket)
	if err != nil {
		return nil, domain.PersistenceFailure("Could not price basket", err)
	}

	if basket.Payment.HasReference() {
		err := s.gateway.UpdateIntent(ctx, basket.Payment.Reference(), totals.Total())
		s.metrics.GatewayCall("update", err)
		if err != nil {
			slog.ErrorContext(ctx, "update payment intent failed", "buyer", buyer.String(), "reference", basket.Payment.Reference(), "error", err)
			return nil, domain.GatewayFailure("Problem updating payment intent", err)
		}
		return domain.NewBasketView(basket), nil
	}

	intent, err := s.gateway.CreateIntent(ctx, totals.Total(), s.currency)
	s.metrics.GatewayCall("create", err)
	if err != nil {
		slog.ErrorContext(ctx, "create payment intent failed", "buyer", buyer.String(), "error", err)
		return nil, domain.GatewayFailure("Problem creating payment intent", err)
	}
	if intent == nil || intent.Reference == "" {
		return nil, domain.GatewayFailure("Problem creating payment intent", errors.New("gateway returned no intent"))
	}

	if err := s.repo.BindPayment(ctx, basket.ID, intent.Reference, intent.Secret); err != nil {
		return nil, domain.PersistenceFailure("Problem updating basket with intent", err)
	}
	invalidateBasket(s.cache, buyer.Key())

	// Re-read: a concurrent request from another instance may have bound its
	// own intent first, and that one wins.
	stored, err := s.repo.GetBasket(ctx, buyer.Key())
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load basket", err)
	}
	if stored.Payment.Reference() != intent.Reference {
		slog.WarnContext(ctx, "payment intent lost binding race", "buyer", buyer.String(), "orphan", intent.Reference, "reference", stored.Payment.Reference())
	}
	slog.InfoContext(ctx, "payment intent bound", "buyer", buyer.String(), "reference", stored.Payment.Reference(), "amount", totals.Total())
	return domain.NewBasketView(stored), nil
}

type statusChangedPayload struct {
	OrderID          int64  `json:"orderId"`
	From             string `json:"from"`
	To               string `json:"to"`
	PaymentReference string `json:"paymentReference"`
	EventID          string `json:"eventId"`
	ChangedAt        string `json:"changedAt"`
}

var errNoMatchingOrder = errors.New("no order for payment reference")

// ApplySettlementEvent verifies a gateway webhook delivery and moves the
// matching order out of Pending. Deliveries for unknown references and
// repeats of an applied outcome are acknowledged without error so the
// gateway stops retrying.
func (s *PaymentService) ApplySettlementEvent(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.verifier.Verify(payload, signature)
	if errors.Is(err, payment.ErrInvalidSignature) {
		s.metrics.Settlement("rejected")
		slog.WarnContext(ctx, "webhook signature rejected", "error", err)
		return domain.Unauthenticated("Invalid webhook signature", err)
	}
	if err != nil {
		s.metrics.Settlement("malformed")
		return domain.ValidationFailure("Malformed webhook event", err)
	}

	var target domain.OrderStatus
	switch ev.Outcome {
	case payment.OutcomeSucceeded:
		target = domain.OrderStatusPaymentReceived
	case payment.OutcomeFailed:
		target = domain.OrderStatusPaymentFailed
	}
	if target == "" || ev.Reference == "" {
		s.metrics.Settlement("ignored")
		slog.InfoContext(ctx, "webhook event ignored", "event_id", ev.ID, "type", ev.Type, "outcome", ev.Outcome.String())
		return nil
	}

	// Fast path only: the event log is written after commit, so a delivery
	// that died mid-transaction is never mistaken for an applied one. The
	// status compare-and-set below keeps concurrent repeats idempotent.
	seen, err := s.events.Seen(ctx, ev.ID)
	if err != nil {
		slog.WarnContext(ctx, "event log unavailable, applying without dedup", "event_id", ev.ID, "error", err)
	}
	if seen {
		s.metrics.Settlement("duplicate")
		slog.InfoContext(ctx, "duplicate webhook event", "event_id", ev.ID, "reference", ev.Reference)
		return nil
	}

	err = s.repo.WithinTx(ctx, func(tx r.TxStore) error {
		return s.settle(ctx, tx, ev, target)
	})
	switch {
	case errors.Is(err, errNoMatchingOrder):
		s.metrics.Settlement("unknown_reference")
		slog.WarnContext(ctx, "no order for settlement event", "event_id", ev.ID, "reference", ev.Reference)
		return nil
	case err != nil:
		s.metrics.Settlement("error")
		slog.ErrorContext(ctx, "applying settlement failed", "event_id", ev.ID, "reference", ev.Reference, "error", err)
		return domain.PersistenceFailure("could not apply settlement event", err)
	}

	if recErr := s.events.Record(context.WithoutCancel(ctx), ev.ID); recErr != nil {
		slog.WarnContext(ctx, "event log record failed", "event_id", ev.ID, "error", recErr)
	}
	s.metrics.Settlement("applied")
	return nil
}

func (s *PaymentService) settle(ctx context.Context, tx r.TxStore, ev *payment.SettlementEvent, target domain.OrderStatus) error {
	order, err := tx.GetOrderByPaymentReference(ctx, ev.Reference)
	if errors.Is(err, r.ErrOrderNotFound) {
		return errNoMatchingOrder
	}
	if err != nil {
		return err
	}

	if order.Status == target {
		slog.InfoContext(ctx, "order already settled", "order_id", order.ID, "status", order.Status.String())
		return nil
	}
	if !domain.CanTransitionTo(order.Status, target) {
		slog.WarnContext(ctx, "settlement conflicts with final order status",
			"order_id", order.ID, "status", order.Status.String(), "outcome", target.String(), "event_id", ev.ID)
		return nil
	}

	err = tx.UpdateOrderStatus(ctx, order.ID, order.Status, target)
	if errors.Is(err, r.ErrStatusConflict) {
		// Another delivery settled the order between our read and write.
		slog.InfoContext(ctx, "order settled concurrently", "order_id", order.ID, "event_id", ev.ID)
		return nil
	}
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(statusChangedPayload{
		OrderID:          order.ID,
		From:             order.Status.String(),
		To:               target.String(),
		PaymentReference: ev.Reference,
		EventID:          ev.ID,
		ChangedAt:        time.Now().UTC().Format(time.RFC3339),
	})
	if err := tx.InsertOutboxEvent(ctx, &r.OutboxEvent{
		AggregateId: strconv.FormatInt(order.ID, 10),
		EventType:   r.EventOrderStatusChanged,
		Payload:     payload,
	}); err != nil {
		return err
	}

	slog.InfoContext(ctx, "order status changed",
		"order_id", order.ID, "from", order.Status.String(), "to", target.String(), "reference", ev.Reference)
	return nil
}
