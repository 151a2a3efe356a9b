package domain

// BasketView is the buyer-facing projection of a basket. It is what gets
// cached and what the HTTP layer renders.
type BasketView struct {
	ID              int64            `json:"id"`
	BuyerID         string           `json:"buyerId"`
	Items           []BasketItemView `json:"items"`
	PaymentIntentID string           `json:"paymentIntentId,omitempty"`
	ClientSecret    string           `json:"clientSecret,omitempty"`
}

type BasketItemView struct {
	ProductID  int64  `json:"productId"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	PictureURL string `json:"pictureUrl"`
	Category   string `json:"category"`
	Quantity   int    `json:"quantity"`
}

func NewBasketView(b *Basket) *BasketView {
	v := &BasketView{
		ID:              b.ID,
		BuyerID:         BuyerIDFromKey(b.BuyerID),
		Items:           make([]BasketItemView, 0, len(b.Items)),
		PaymentIntentID: b.Payment.Reference(),
		ClientSecret:    b.Payment.Secret(),
	}
	for _, item := range b.Items {
		iv := BasketItemView{ProductID: item.ProductID, Quantity: item.Quantity}
		if p := item.Product; p != nil {
			iv.Name = p.Name
			iv.Price = p.Price
			iv.PictureURL = p.PictureURL
			iv.Category = p.Category
		}
		v.Items = append(v.Items, iv)
	}
	return v
}
