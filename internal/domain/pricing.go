package domain

import (
	"errors"
	"fmt"
)

const (
	// FreeDeliveryThreshold is exclusive: a subtotal of exactly this amount
	// still pays the flat fee.
	FreeDeliveryThreshold int64 = 10000
	FlatDeliveryFee       int64 = 500
)

var ErrProductNotLoaded = errors.New("basket item has no product loaded")

type Totals struct {
	Subtotal    int64
	DeliveryFee int64
}

func (t Totals) Total() int64 {
	return t.Subtotal + t.DeliveryFee
}

func DeliveryFeeFor(subtotal int64) int64 {
	if subtotal > FreeDeliveryThreshold {
		return 0
	}
	return FlatDeliveryFee
}

func PriceOrderItems(items []OrderItem) Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return Totals{Subtotal: subtotal, DeliveryFee: DeliveryFeeFor(subtotal)}
}

// PriceBasket prices the basket from the live product rows attached to its
// items.
func PriceBasket(b *Basket) (Totals, error) {
	var subtotal int64
	for _, item := range b.Items {
		if item.Product == nil {
			return Totals{}, fmt.Errorf("%w: product %d", ErrProductNotLoaded, item.ProductID)
		}
		subtotal += item.Product.Price * int64(item.Quantity)
	}
	return Totals{Subtotal: subtotal, DeliveryFee: DeliveryFeeFor(subtotal)}, nil
}
