package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

type BasketService interface {
	Get(ctx context.Context, buyer domain.BuyerKey) (*domain.BasketView, error)
	AddItem(ctx context.Context, buyer domain.BuyerKey, productID int64, quantity int) (*domain.BasketView, error)
	RemoveItem(ctx context.Context, buyer domain.BuyerKey, productID int64, quantity int) error
	MergeOnLogin(ctx context.Context, anonymous, user domain.BuyerKey) (*domain.BasketView, error)
}

type BasketHandler struct {
	basket  BasketService
	timeout time.Duration
}

func NewBasketHandler(basket BasketService, timeout time.Duration) *BasketHandler {
	return &BasketHandler{
		basket:  basket,
		timeout: timeout,
	}
}

// GET /api/basket
func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.basket.Get(ctx, buyerFrom(r))
	if err != nil {
		handleError(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/basket?productId=&quantity=
func (h *BasketHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, quantity, ok := itemParams(w, r)
	if !ok {
		return
	}

	view, err := h.basket.AddItem(ctx, ensureBuyer(w, r), productID, quantity)
	if err != nil {
		handleError(w, r, err, statusOverrides{
			domain.KindNotFound:    http.StatusBadRequest,
			domain.KindPersistence: http.StatusBadRequest,
		})
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// DELETE /api/basket?productId=&quantity=
func (h *BasketHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, quantity, ok := itemParams(w, r)
	if !ok {
		return
	}

	err := h.basket.RemoveItem(ctx, buyerFrom(r), productID, quantity)
	if err != nil {
		handleError(w, r, err, statusOverrides{
			domain.KindPersistence: http.StatusBadRequest,
		})
		return
	}
	w.WriteHeader(http.StatusOK)
}

// POST /api/account/basket
func (h *BasketHandler) MergeOnLogin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user := buyerFrom(r)
	if !user.IsAuthenticated() {
		respondError(w, http.StatusUnauthorized, "Login required")
		return
	}

	view, err := h.basket.MergeOnLogin(ctx, anonymousFrom(r), user)
	if err != nil {
		handleError(w, r, err, nil)
		return
	}
	clearBuyerCookie(w)
	if view == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func itemParams(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	q := r.URL.Query()
	productID, err := strconv.ParseInt(q.Get("productId"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "productId must be a positive integer")
		return 0, 0, false
	}
	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil || quantity <= 0 {
		respondError(w, http.StatusBadRequest, "quantity must be a positive integer")
		return 0, 0, false
	}
	return productID, quantity, true
}
