package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	r "github.com/fjod/storefront/internal/repository"
	"github.com/segmentio/kafka-go"
)

const groupID = "storefront-basket-evictor"

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type orderCreated struct {
	OrderID int64  `json:"orderId"`
	BuyerKey string `json:"buyerId"` // domain.BuyerKey.Key form
}

// BasketEvictor drops the cached basket view of every buyer that placed an
// order, including those whose post-commit eviction in checkout failed.
type BasketEvictor struct {
	reader MessageReader
	cache  cache.BasketCache
}

func NewBasketEvictor(c cache.BasketCache, topic string, brokers ...string) *BasketEvictor {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &BasketEvictor{reader: reader, cache: c}
}

func (e *BasketEvictor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		e.processMessage(ctx)
	}
}

func (e *BasketEvictor) Close() error {
	return e.reader.Close()
}

func (e *BasketEvictor) processMessage(ctx context.Context) {
	m, err := e.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		slog.ErrorContext(ctx, "error reading message", "error", err)
		return
	}

	if eventType(m) != r.EventOrderCreated {
		return
	}

	var event orderCreated
	if err := json.Unmarshal(m.Value, &event); err != nil {
		slog.WarnContext(ctx, "error parsing order event", "offset", m.Offset, "error", err)
		return
	}
	if _, err := domain.ParseBuyerKey(event.BuyerKey); err != nil {
		slog.WarnContext(ctx, "order event without valid buyer", "order_id", event.OrderID, "buyer", event.BuyerKey)
		return
	}

	if err := e.cache.Delete(ctx, event.BuyerKey); err != nil {
		slog.WarnContext(ctx, "failed to evict basket view", "buyer", event.BuyerKey, "order_id", event.OrderID, "error", err)
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
