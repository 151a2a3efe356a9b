package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CheckoutService interface {
	CreateOrder(ctx context.Context, buyer domain.BuyerKey, shipping domain.Address, saveAddress bool) (int64, error)
}

type OrderService interface {
	List(ctx context.Context, buyer domain.BuyerKey) ([]*domain.Order, error)
	Get(ctx context.Context, buyer domain.BuyerKey, id int64) (*domain.Order, error)
	SavedAddress(ctx context.Context, buyer domain.BuyerKey) (*domain.Address, error)
}

type OrdersHandler struct {
	checkout CheckoutService
	orders   OrderService
	timeout  time.Duration
}

func NewOrdersHandler(checkout CheckoutService, orders OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		checkout: checkout,
		orders:   orders,
		timeout:  timeout,
	}
}

type CreateOrderRequestDTO struct {
	ShippingAddress domain.Address `json:"shippingAddress"`
	SaveAddress     bool           `json:"saveAddress"`
}

type OrderItemDTO struct {
	ProductID  int64  `json:"productId"`
	Name       string `json:"name"`
	PictureURL string `json:"pictureUrl"`
	Price      int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

type OrderResponseDTO struct {
	ID               int64          `json:"id"`
	BuyerID          string         `json:"buyerId"`
	ShippingAddress  domain.Address `json:"shippingAddress"`
	OrderDate        string         `json:"orderDate"`
	Items            []OrderItemDTO `json:"items"`
	Subtotal         int64          `json:"subtotal"`
	DeliveryFee      int64          `json:"deliveryFee"`
	Total            int64          `json:"total"`
	Status           string         `json:"status"`
	PaymentReference string         `json:"paymentIntentId,omitempty"`
}

// POST /api/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	id, err := h.checkout.CreateOrder(ctx, buyerFrom(r), req.ShippingAddress, req.SaveAddress)
	if err != nil {
		handleError(w, r, err, statusOverrides{
			domain.KindNotFound:    http.StatusBadRequest,
			domain.KindPersistence: http.StatusBadRequest,
		})
		return
	}

	w.Header().Set("Location", "/api/orders/"+strconv.FormatInt(id, 10))
	respondJSON(w, http.StatusCreated, id)
}

// GET /api/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.List(ctx, buyerFrom(r))
	if err != nil {
		handleError(w, r, err, nil)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Order id must be a positive integer")
		return
	}

	order, err := h.orders.Get(ctx, buyerFrom(r), id)
	if err != nil {
		handleError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(order))
}

// GET /api/account/address
func (h *OrdersHandler) SavedAddress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	addr, err := h.orders.SavedAddress(ctx, buyerFrom(r))
	if err != nil {
		handleError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, addr)
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:  it.ProductID,
			Name:       it.Name,
			PictureURL: it.PictureURL,
			Price:      it.Price,
			Quantity:   it.Quantity,
		})
	}
	return OrderResponseDTO{
		ID:               o.ID,
		BuyerID:          domain.BuyerIDFromKey(o.BuyerID),
		ShippingAddress:  o.ShippingAddress,
		OrderDate:        o.OrderDate.UTC().Format(time.RFC3339),
		Items:            items,
		Subtotal:         o.Subtotal,
		DeliveryFee:      o.DeliveryFee,
		Total:            o.Total(),
		Status:           o.Status.String(),
		PaymentReference: o.PaymentReference,
	}
}
