package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("jwt-test-secret")

type BasketServiceMock struct {
	view  *domain.BasketView
	err   error
	buyer domain.BuyerKey // last buyer seen
	anon  domain.BuyerKey
}

func (m *BasketServiceMock) Get(_ context.Context, buyer domain.BuyerKey) (*domain.BasketView, error) {
	m.buyer = buyer
	return m.view, m.err
}

func (m *BasketServiceMock) AddItem(_ context.Context, buyer domain.BuyerKey, _ int64, _ int) (*domain.BasketView, error) {
	m.buyer = buyer
	return m.view, m.err
}

func (m *BasketServiceMock) RemoveItem(_ context.Context, buyer domain.BuyerKey, _ int64, _ int) error {
	m.buyer = buyer
	return m.err
}

func (m *BasketServiceMock) MergeOnLogin(_ context.Context, anonymous, user domain.BuyerKey) (*domain.BasketView, error) {
	m.anon = anonymous
	m.buyer = user
	return m.view, m.err
}

type CheckoutServiceMock struct {
	id    int64
	err   error
	buyer domain.BuyerKey
	addr  domain.Address
	save  bool
}

func (m *CheckoutServiceMock) CreateOrder(_ context.Context, buyer domain.BuyerKey, shipping domain.Address, saveAddress bool) (int64, error) {
	m.buyer, m.addr, m.save = buyer, shipping, saveAddress
	return m.id, m.err
}

type OrderServiceMock struct {
	orders []*domain.Order
	addr   *domain.Address
	err    error
}

func (m *OrderServiceMock) List(_ context.Context, buyer domain.BuyerKey) ([]*domain.Order, error) {
	if !buyer.IsAuthenticated() {
		return nil, domain.Unauthenticated("Login required", nil)
	}
	return m.orders, m.err
}

func (m *OrderServiceMock) Get(_ context.Context, buyer domain.BuyerKey, id int64) (*domain.Order, error) {
	if !buyer.IsAuthenticated() {
		return nil, domain.Unauthenticated("Login required", nil)
	}
	if m.err != nil {
		return nil, m.err
	}
	for _, o := range m.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, domain.NotFound("Order not found", nil)
}

func (m *OrderServiceMock) SavedAddress(context.Context, domain.BuyerKey) (*domain.Address, error) {
	return m.addr, m.err
}

type PaymentServiceMock struct {
	view      *domain.BasketView
	err       error
	payload   []byte
	signature string
}

func (m *PaymentServiceMock) CreateOrUpdatePaymentIntent(context.Context, domain.BuyerKey) (*domain.BasketView, error) {
	return m.view, m.err
}

func (m *PaymentServiceMock) ApplySettlementEvent(_ context.Context, payload []byte, signature string) error {
	m.payload, m.signature = payload, signature
	return m.err
}

type ProductCatalogMock struct {
	products []*domain.Product
	err      error
}

func (m ProductCatalogMock) GetAllProducts(context.Context) ([]*domain.Product, error) {
	return m.products, m.err
}

func (m ProductCatalogMock) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.products {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrProductNotFound
}

// --- helpers ---

func signToken(t *testing.T, subject string, ttl time.Duration) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	s, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func withBearer(t *testing.T, r *http.Request, subject string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+signToken(t, subject, time.Hour))
	return r
}

func withBuyerCookie(r *http.Request, token string) *http.Request {
	r.AddCookie(&http.Cookie{Name: BuyerCookie, Value: token})
	return r
}
