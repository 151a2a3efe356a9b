package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrIllegalTransition = errors.New("illegal transition of order status")
	ErrUnknownStatus     = errors.New("unknown order status")
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "Pending"
	OrderStatusPaymentReceived OrderStatus = "PaymentReceived"
	OrderStatusPaymentFailed   OrderStatus = "PaymentFailed"
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusPaymentReceived, OrderStatusPaymentFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaymentReceived || s == OrderStatusPaymentFailed
}

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether an order in status from may move to status
// to. Settlement moves a pending order exactly once.
func CanTransitionTo(from, to OrderStatus) bool {
	return from == OrderStatusPending && to.IsTerminal()
}

type Address struct {
	FullName string `json:"fullName"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city"`
	Region   string `json:"region"`
	PostCode string `json:"postCode"`
	Country  string `json:"country"`
}

// Validate returns the list of required address fields that are blank.
func (a Address) Validate() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"address1", a.Address1},
		{"city", a.City},
		{"region", a.Region},
		{"postCode", a.PostCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// ItemOrdered is the product data frozen into an order line.
type ItemOrdered struct {
	ProductID  int64
	Name       string
	PictureURL string
}

type OrderItem struct {
	ItemOrdered
	Price    int64
	Quantity int
}

// NewOrderItem snapshots the product as it is right now.
func NewOrderItem(p *Product, quantity int) OrderItem {
	return OrderItem{
		ItemOrdered: ItemOrdered{
			ProductID:  p.ID,
			Name:       p.Name,
			PictureURL: p.PictureURL,
		},
		Price:    p.Price,
		Quantity: quantity,
	}
}

func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

type Order struct {
	ID               int64
	BuyerID          string // BuyerKey.Key of the buyer
	ShippingAddress  Address
	OrderDate        time.Time
	Items            []OrderItem
	Subtotal         int64
	DeliveryFee      int64
	Status           OrderStatus
	PaymentReference string
}

// NewOrder prices the snapshot items and returns a pending order.
func NewOrder(buyerID string, shipping Address, items []OrderItem, paymentReference string) *Order {
	totals := PriceOrderItems(items)
	return &Order{
		BuyerID:          buyerID,
		ShippingAddress:  shipping,
		OrderDate:        time.Now().UTC(),
		Items:            items,
		Subtotal:         totals.Subtotal,
		DeliveryFee:      totals.DeliveryFee,
		Status:           OrderStatusPending,
		PaymentReference: paymentReference,
	}
}

func (o *Order) Total() int64 {
	return o.Subtotal + o.DeliveryFee
}
