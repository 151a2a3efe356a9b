package repository

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrBasketNotFound    = errors.New("basket not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrAddressNotFound   = errors.New("address not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStatusConflict    = errors.New("order status changed concurrently")
)

// TxStore is the set of operations available inside a transaction started
// by Repository.WithinTx.
type TxStore interface {
	GetBasket(ctx context.Context, buyerID string) (*domain.Basket, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int, policy domain.StockPolicy) error
	InsertOrder(ctx context.Context, order *domain.Order) (int64, error)
	DeleteBasket(ctx context.Context, basketID int64) error
	UpsertAddress(ctx context.Context, userID string, address domain.Address) error
	GetOrderByPaymentReference(ctx context.Context, reference string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to domain.OrderStatus) error
	InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error
}

type txStore struct {
	q querier
}
