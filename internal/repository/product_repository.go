package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

const productColumns = `id, name, description, price, picture_url, category, quantity_in_stock`

func (r *Repository) GetAllProducts(ctx context.Context) ([]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p := &domain.Product{}
		if err := scanProduct(rows, p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, r.db, id)
}

func (t *txStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, t.q, id)
}

func getProduct(ctx context.Context, q querier, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var product *domain.Product
	for rows.Next() {
		p := &domain.Product{}
		if err := scanProduct(rows, p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		product = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner, p *domain.Product) error {
	return s.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.PictureURL,
		&p.Category,
		&p.QuantityInStock,
	)
}

// CreateProduct inserts a catalog row and sets p.ID.
func (r *Repository) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (name, description, price, picture_url, category, quantity_in_stock)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		p.Name,
		p.Description,
		p.Price,
		p.PictureURL,
		p.Category,
		p.QuantityInStock,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *Repository) UpdateProduct(ctx context.Context, p *domain.Product) error {
	query := `UPDATE products
	          SET name = $1, description = $2, price = $3, picture_url = $4, category = $5, quantity_in_stock = $6
	          WHERE id = $7`

	res, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.Description,
		p.Price,
		p.PictureURL,
		p.Category,
		p.QuantityInStock,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DecrementStock subtracts quantity from the product's stock in a single
// statement. Under StockStrict the update only applies while enough stock is
// on hand and ErrInsufficientStock is returned otherwise.
func (t *txStore) DecrementStock(ctx context.Context, productID int64, quantity int, policy domain.StockPolicy) error {
	query := `UPDATE products SET quantity_in_stock = quantity_in_stock - $1 WHERE id = $2`
	if policy == domain.StockStrict {
		query += ` AND quantity_in_stock >= $1`
	}

	res, err := t.q.ExecContext(ctx, query, quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := getProduct(ctx, t.q, productID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("decrement stock: %w", err)
	}
	return ErrInsufficientStock
}
