package domain

import (
	"errors"
	"time"
)

var (
	ErrInvalidQuantity        = errors.New("quantity must be greater than 0")
	ErrItemNotInBasket        = errors.New("item not found in basket")
	ErrSecretWithoutReference = errors.New("payment secret present without payment reference")
)

type Basket struct {
	ID        int64
	BuyerID   string // BuyerKey.Key of the owner
	Items     []BasketItem
	Payment   PaymentBinding
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BasketItem references a product by id. Product is filled on read with the
// live catalog row and is never persisted with the item.
type BasketItem struct {
	ProductID int64
	Quantity  int
	Product   *Product
}

func NewBasket(buyer BuyerKey) *Basket {
	now := time.Now().UTC()
	return &Basket{
		BuyerID:   buyer.Key(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddItem merges quantity into an existing line for the product or appends a
// new line.
func (b *Basket) AddItem(product *Product, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if item := b.item(product.ID); item != nil {
		item.Quantity += quantity
		item.Product = product
	} else {
		b.Items = append(b.Items, BasketItem{
			ProductID: product.ID,
			Quantity:  quantity,
			Product:   product,
		})
	}
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveItem decrements the line and drops it once the quantity reaches zero.
// Removing more than is present removes the line.
func (b *Basket) RemoveItem(productID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	for i := range b.Items {
		if b.Items[i].ProductID != productID {
			continue
		}
		b.Items[i].Quantity -= quantity
		if b.Items[i].Quantity <= 0 {
			b.Items = append(b.Items[:i], b.Items[i+1:]...)
		}
		b.UpdatedAt = time.Now().UTC()
		return nil
	}
	return ErrItemNotInBasket
}

func (b *Basket) Quantity(productID int64) int {
	if item := b.item(productID); item != nil {
		return item.Quantity
	}
	return 0
}

func (b *Basket) IsEmpty() bool {
	return b == nil || len(b.Items) == 0
}

func (b *Basket) item(productID int64) *BasketItem {
	for i := range b.Items {
		if b.Items[i].ProductID == productID {
			return &b.Items[i]
		}
	}
	return nil
}

type PaymentState int

const (
	PaymentNone PaymentState = iota
	PaymentPending
	PaymentBound
)

func (s PaymentState) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentBound:
		return "bound"
	default:
		return "none"
	}
}

// PaymentBinding ties a basket to at most one gateway payment object.
// The zero value is the unbound state.
type PaymentBinding struct {
	state     PaymentState
	reference string
	secret    string
}

func PendingPayment(reference string) PaymentBinding {
	return PaymentBinding{state: PaymentPending, reference: reference}
}

func BoundPayment(reference, secret string) PaymentBinding {
	return PaymentBinding{state: PaymentBound, reference: reference, secret: secret}
}

// RestorePayment rebuilds a binding from its persisted columns.
func RestorePayment(reference, secret string) (PaymentBinding, error) {
	switch {
	case reference == "" && secret == "":
		return PaymentBinding{}, nil
	case reference == "":
		return PaymentBinding{}, ErrSecretWithoutReference
	case secret == "":
		return PendingPayment(reference), nil
	default:
		return BoundPayment(reference, secret), nil
	}
}

func (p PaymentBinding) State() PaymentState { return p.state }
func (p PaymentBinding) Reference() string   { return p.reference }
func (p PaymentBinding) Secret() string      { return p.secret }
func (p PaymentBinding) HasReference() bool  { return p.state != PaymentNone }

// Bind records a gateway handle. First write wins: an existing reference or
// secret is never replaced.
func (p PaymentBinding) Bind(reference, secret string) PaymentBinding {
	switch p.state {
	case PaymentNone:
		if reference == "" {
			return p
		}
		if secret == "" {
			return PendingPayment(reference)
		}
		return BoundPayment(reference, secret)
	case PaymentPending:
		if secret == "" {
			return p
		}
		return BoundPayment(p.reference, secret)
	default:
		return p
	}
}
