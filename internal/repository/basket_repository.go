package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

func (r *Repository) GetBasket(ctx context.Context, buyerID string) (*domain.Basket, error) {
	return getBasket(ctx, r.db, buyerID)
}

func (t *txStore) GetBasket(ctx context.Context, buyerID string) (*domain.Basket, error) {
	return getBasket(ctx, t.q, buyerID)
}

// getBasket loads the basket together with the live product row of every
// item.
func getBasket(ctx context.Context, q querier, buyerID string) (*domain.Basket, error) {
	query := `SELECT id, buyer_id, payment_reference, payment_secret, created_at, updated_at
	          FROM baskets WHERE buyer_id = $1`

	var (
		b         domain.Basket
		reference sql.NullString
		secret    sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	err := q.QueryRowContext(ctx, query, buyerID).Scan(
		&b.ID,
		&b.BuyerID,
		&reference,
		&secret,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBasketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query basket: %w", err)
	}
	b.CreatedAt = createdAt.UTC()
	b.UpdatedAt = updatedAt.UTC()

	b.Payment, err = domain.RestorePayment(reference.String, secret.String)
	if err != nil {
		return nil, fmt.Errorf("basket %d: %w", b.ID, err)
	}

	items, err := getBasketItems(ctx, q, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return &b, nil
}

func getBasketItems(ctx context.Context, q querier, basketID int64) ([]domain.BasketItem, error) {
	query := `SELECT bi.quantity, p.id, p.name, p.description, p.price, p.picture_url, p.category, p.quantity_in_stock
	          FROM basket_items bi
	          JOIN products p ON p.id = bi.product_id
	          WHERE bi.basket_id = $1
	          ORDER BY bi.position`

	rows, err := q.QueryContext(ctx, query, basketID)
	if err != nil {
		return nil, fmt.Errorf("query basket items: %w", err)
	}
	defer rows.Close()

	var items []domain.BasketItem
	for rows.Next() {
		var (
			qty int
			p   domain.Product
		)
		if err := rows.Scan(
			&qty,
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Price,
			&p.PictureURL,
			&p.Category,
			&p.QuantityInStock,
		); err != nil {
			return nil, fmt.Errorf("scan basket item: %w", err)
		}
		items = append(items, domain.BasketItem{ProductID: p.ID, Quantity: qty, Product: &p})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// SaveBasket writes the basket and replaces its item lines. A new basket
// (ID 0) is inserted and receives its ID. Payment columns are only written by
// BindPayment.
func (r *Repository) SaveBasket(ctx context.Context, b *domain.Basket) error {
	return r.inTx(ctx, func(q querier) error {
		if b.ID == 0 {
			err := q.QueryRowContext(ctx,
				`INSERT INTO baskets (buyer_id, created_at, updated_at) VALUES ($1, $2, $3) RETURNING id`,
				b.BuyerID, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
			).Scan(&b.ID)
			if err != nil {
				return fmt.Errorf("insert basket: %w", err)
			}
		} else {
			res, err := q.ExecContext(ctx,
				`UPDATE baskets SET updated_at = $1 WHERE id = $2`,
				b.UpdatedAt.UTC(), b.ID)
			if err != nil {
				return fmt.Errorf("update basket: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrBasketNotFound
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM basket_items WHERE basket_id = $1`, b.ID); err != nil {
			return fmt.Errorf("clear basket items: %w", err)
		}
		for i, item := range b.Items {
			_, err := q.ExecContext(ctx,
				`INSERT INTO basket_items (basket_id, product_id, quantity, position) VALUES ($1, $2, $3, $4)`,
				b.ID, item.ProductID, item.Quantity, i)
			if err != nil {
				return fmt.Errorf("insert basket item: %w", err)
			}
		}
		return nil
	})
}

// BindPayment stores the gateway reference and secret on the basket. Columns
// that already hold a value are left untouched so the first writer wins.
func (r *Repository) BindPayment(ctx context.Context, basketID int64, reference, secret string) error {
	query := `UPDATE baskets
	          SET payment_reference = COALESCE(payment_reference, $1),
	              payment_secret = COALESCE(payment_secret, $2),
	              updated_at = $3
	          WHERE id = $4`

	res, err := r.db.ExecContext(ctx, query, nullString(reference), nullString(secret), time.Now().UTC(), basketID)
	if err != nil {
		return fmt.Errorf("bind payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBasketNotFound
	}
	return nil
}

// TransferBasket moves the basket owned by from to the buyer to. Any basket
// to already owns is discarded.
func (r *Repository) TransferBasket(ctx context.Context, from, to string) error {
	return r.inTx(ctx, func(q querier) error {
		var id int64
		err := q.QueryRowContext(ctx, `SELECT id FROM baskets WHERE buyer_id = $1`, from).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBasketNotFound
		}
		if err != nil {
			return fmt.Errorf("query basket: %w", err)
		}

		if _, err := q.ExecContext(ctx,
			`DELETE FROM basket_items WHERE basket_id IN (SELECT id FROM baskets WHERE buyer_id = $1)`, to); err != nil {
			return fmt.Errorf("delete target basket items: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM baskets WHERE buyer_id = $1`, to); err != nil {
			return fmt.Errorf("delete target basket: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE baskets SET buyer_id = $1, updated_at = $2 WHERE id = $3`,
			to, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("transfer basket: %w", err)
		}
		return nil
	})
}

func (t *txStore) DeleteBasket(ctx context.Context, basketID int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM basket_items WHERE basket_id = $1`, basketID); err != nil {
		return fmt.Errorf("delete basket items: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM baskets WHERE id = $1`, basketID)
	if err != nil {
		return fmt.Errorf("delete basket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBasketNotFound
	}
	return nil
}
