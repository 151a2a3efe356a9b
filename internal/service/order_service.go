package service

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
	r "github.com/fjod/storefront/internal/repository"
)

type OrderReader interface {
	GetOrderByID(ctx context.Context, buyerKey string, id int64) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerKey string) ([]*domain.Order, error)
	GetAddress(ctx context.Context, buyerKey string) (*domain.Address, error)
}

// OrderService is the read side of orders and the saved shipping address.
type OrderService struct {
	repo OrderReader
}

func NewOrderService(repo OrderReader) *OrderService {
	return &OrderService{repo: repo}
}

func (s *OrderService) List(ctx context.Context, buyer domain.BuyerKey) ([]*domain.Order, error) {
	if !buyer.IsAuthenticated() {
		return nil, domain.Unauthenticated("Login required", nil)
	}
	orders, err := s.repo.ListOrdersByBuyer(ctx, buyer.Key())
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load orders", err)
	}
	return orders, nil
}

func (s *OrderService) Get(ctx context.Context, buyer domain.BuyerKey, id int64) (*domain.Order, error) {
	if !buyer.IsAuthenticated() {
		return nil, domain.Unauthenticated("Login required", nil)
	}
	order, err := s.repo.GetOrderByID(ctx, buyer.Key(), id)
	if errors.Is(err, r.ErrOrderNotFound) {
		return nil, domain.NotFound("Order not found", err)
	}
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load order", err)
	}
	return order, nil
}

// SavedAddress returns the address stored by a previous checkout with
// saveAddress set.
func (s *OrderService) SavedAddress(ctx context.Context, buyer domain.BuyerKey) (*domain.Address, error) {
	if !buyer.IsAuthenticated() {
		return nil, domain.Unauthenticated("Login required", nil)
	}
	a, err := s.repo.GetAddress(ctx, buyer.Key())
	if errors.Is(err, r.ErrAddressNotFound) {
		return nil, domain.NotFound("No saved address", err)
	}
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load address", err)
	}
	return a, nil
}
