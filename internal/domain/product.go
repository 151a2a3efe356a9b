package domain

import "fmt"

// Product is a catalog row. Price is in minor currency units.
type Product struct {
	ID              int64
	Name            string
	Description     string
	Price           int64
	PictureURL      string
	Category        string
	QuantityInStock int
}

// StockPolicy controls how checkout decrements stock.
type StockPolicy string

const (
	// StockPermissive decrements unconditionally and may drive stock negative.
	StockPermissive StockPolicy = "permissive"
	// StockStrict refuses a decrement that would take stock below zero.
	StockStrict StockPolicy = "strict"
)

func ParseStockPolicy(s string) (StockPolicy, error) {
	switch p := StockPolicy(s); p {
	case StockPermissive, StockStrict:
		return p, nil
	case "":
		return StockPermissive, nil
	}
	return "", fmt.Errorf("unknown stock policy %q", s)
}
