package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	r "github.com/fjod/storefront/internal/repository"
)

// TxRunner opens the unit of work that checkout and settlement run in.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(r.TxStore) error) error
}

type CheckoutService struct {
	tx      TxRunner
	cache   cache.BasketCache
	policy  domain.StockPolicy
	metrics *metrics.Metrics
}

func NewCheckoutService(tx TxRunner, c cache.BasketCache, policy domain.StockPolicy, m *metrics.Metrics) *CheckoutService {
	if c == nil {
		c = cache.Noop{}
	}
	if policy == "" {
		policy = domain.StockPermissive
	}
	return &CheckoutService{tx: tx, cache: c, policy: policy, metrics: m}
}

type orderCreatedPayload struct {
	OrderID          int64              `json:"orderId"`
	BuyerID          string             `json:"buyerId"`
	Status           string             `json:"status"`
	Subtotal         int64              `json:"subtotal"`
	DeliveryFee      int64              `json:"deliveryFee"`
	Total            int64              `json:"total"`
	PaymentReference string             `json:"paymentReference,omitempty"`
	Items            []orderItemPayload `json:"items"`
	OrderDate        string             `json:"orderDate"`
}

type orderItemPayload struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder turns the buyer's basket into a pending order. Stock
// decrement, order insert, basket removal, the optional address save and the
// order.created outbox record commit together or not at all.
func (s *CheckoutService) CreateOrder(ctx context.Context, buyer domain.BuyerKey, shipping domain.Address, saveAddress bool) (int64, error) {
	if missing := shipping.Validate(); len(missing) > 0 {
		s.metrics.CheckoutFailed(string(domain.KindValidation))
		return 0, domain.ValidationFailure("Invalid shipping address: missing "+strings.Join(missing, ", "), nil)
	}

	var order *domain.Order
	err := s.tx.WithinTx(ctx, func(tx r.TxStore) error {
		basket, err := tx.GetBasket(ctx, buyer.Key())
		if errors.Is(err, r.ErrBasketNotFound) || (err == nil && basket.IsEmpty()) {
			return domain.InvalidState("Could not locate basket", r.ErrBasketNotFound)
		}
		if err != nil {
			return err
		}

		items := make([]domain.OrderItem, 0, len(basket.Items))
		for _, line := range basket.Items {
			product, err := tx.GetProduct(ctx, line.ProductID)
			if errors.Is(err, r.ErrProductNotFound) {
				return domain.NotFound(fmt.Sprintf("Product %d no longer exists", line.ProductID), err)
			}
			if err != nil {
				return err
			}

			items = append(items, domain.NewOrderItem(product, line.Quantity))

			err = tx.DecrementStock(ctx, product.ID, line.Quantity, s.policy)
			if errors.Is(err, r.ErrInsufficientStock) {
				return domain.InvalidState("Insufficient stock for "+product.Name, err)
			}
			if err != nil {
				return err
			}
		}

		order = domain.NewOrder(buyer.Key(), shipping, items, basket.Payment.Reference())
		if _, err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		if err := tx.DeleteBasket(ctx, basket.ID); err != nil {
			return err
		}

		if saveAddress && buyer.IsAuthenticated() {
			if err := tx.UpsertAddress(ctx, buyer.Key(), shipping); err != nil {
				return err
			}
		}

		return tx.InsertOutboxEvent(ctx, orderCreatedEvent(order))
	})
	if err != nil {
		var derr *domain.Error
		if !errors.As(err, &derr) {
			derr = domain.PersistenceFailure("could not create order", err)
		}
		slog.ErrorContext(ctx, "checkout failed", "buyer", buyer.String(), "kind", derr.Kind, "error", err)
		s.metrics.CheckoutFailed(string(derr.Kind))
		return 0, derr
	}

	invalidateBasket(s.cache, buyer.Key())
	s.metrics.OrderCreated()
	slog.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"buyer", buyer.String(),
		"total", order.Total(),
		"reference", order.PaymentReference)
	return order.ID, nil
}

func orderCreatedEvent(o *domain.Order) *r.OutboxEvent {
	p := orderCreatedPayload{
		OrderID:          o.ID,
		BuyerID:          o.BuyerID,
		Status:           o.Status.String(),
		Subtotal:         o.Subtotal,
		DeliveryFee:      o.DeliveryFee,
		Total:            o.Total(),
		PaymentReference: o.PaymentReference,
		Items:            make([]orderItemPayload, 0, len(o.Items)),
		OrderDate:        o.OrderDate.Format(time.RFC3339),
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, orderItemPayload{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
		})
	}
	// Only plain fields, Marshal cannot fail.
	payload, _ := json.Marshal(p)
	return &r.OutboxEvent{
		AggregateId: strconv.FormatInt(o.ID, 10),
		EventType:   r.EventOrderCreated,
		Payload:     payload,
	}
}
