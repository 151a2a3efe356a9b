package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var ErrDuplicatePaymentReference = errors.New("order for this payment reference already exists")

const orderColumns = `id, buyer_id, order_date, subtotal, delivery_fee, status, payment_reference,
	ship_full_name, ship_address1, ship_address2, ship_city, ship_region, ship_post_code, ship_country`

// InsertOrder writes the order and its lines and returns the new order id.
func (t *txStore) InsertOrder(ctx context.Context, order *domain.Order) (int64, error) {
	query := `INSERT INTO orders (buyer_id, order_date, subtotal, delivery_fee, status, payment_reference,
	              ship_full_name, ship_address1, ship_address2, ship_city, ship_region, ship_post_code, ship_country)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          RETURNING id`

	a := order.ShippingAddress
	var id int64
	err := t.q.QueryRowContext(ctx, query,
		order.BuyerID,
		order.OrderDate.UTC(),
		order.Subtotal,
		order.DeliveryFee,
		string(order.Status),
		nullString(order.PaymentReference),
		a.FullName,
		a.Address1,
		a.Address2,
		a.City,
		a.Region,
		a.PostCode,
		a.Country,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicatePaymentReference
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err := t.q.ExecContext(ctx,
			`INSERT INTO order_items (order_id, line_no, product_id, name, picture_url, price, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, i+1, item.ProductID, item.Name, item.PictureURL, item.Price, item.Quantity)
		if err != nil {
			return 0, fmt.Errorf("insert order item: %w", err)
		}
	}

	order.ID = id
	return id, nil
}

// GetOrderByID returns the order only when it belongs to buyerID.
func (r *Repository) GetOrderByID(ctx context.Context, buyerID string, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND buyer_id = $2`
	return getOrder(ctx, r.db, query, id, buyerID)
}

func (r *Repository) GetOrderByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	return getOrderByPaymentReference(ctx, r.db, reference)
}

func (t *txStore) GetOrderByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	return getOrderByPaymentReference(ctx, t.q, reference)
}

func getOrderByPaymentReference(ctx context.Context, q querier, reference string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_reference = $1`
	return getOrder(ctx, q, query, reference)
}

func getOrder(ctx context.Context, q querier, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order.Items, err = getOrderItems(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *Repository) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY order_date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("query orders by buyer: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	// Release the connection before loading lines; sqlite runs on a single one.
	rows.Close()

	for _, order := range orders {
		if order.Items, err = getOrderItems(ctx, r.db, order.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		order     domain.Order
		status    string
		reference sql.NullString
		orderDate time.Time
		a         = &order.ShippingAddress
	)
	if err := s.Scan(
		&order.ID,
		&order.BuyerID,
		&orderDate,
		&order.Subtotal,
		&order.DeliveryFee,
		&status,
		&reference,
		&a.FullName,
		&a.Address1,
		&a.Address2,
		&a.City,
		&a.Region,
		&a.PostCode,
		&a.Country,
	); err != nil {
		return nil, err
	}

	st, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	order.Status = st
	order.PaymentReference = reference.String
	order.OrderDate = orderDate.UTC()
	return &order, nil
}

func getOrderItems(ctx context.Context, q querier, orderID int64) ([]domain.OrderItem, error) {
	query := `SELECT product_id, name, picture_url, price, quantity
	          FROM order_items WHERE order_id = $1 ORDER BY line_no`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ProductID,
			&item.Name,
			&item.PictureURL,
			&item.Price,
			&item.Quantity,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// UpdateOrderStatus moves the order from one status to another. The update is
// conditional on the current status, so a concurrent writer that got there
// first makes it return ErrStatusConflict.
func (t *txStore) UpdateOrderStatus(ctx context.Context, orderID int64, from, to domain.OrderStatus) error {
	if !domain.CanTransitionTo(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, to)
	}

	res, err := t.q.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), orderID, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (t *txStore) UpsertAddress(ctx context.Context, userID string, a domain.Address) error {
	query := `INSERT INTO user_addresses (user_id, full_name, address1, address2, city, region, post_code, country, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (user_id) DO UPDATE SET
	              full_name = EXCLUDED.full_name,
	              address1 = EXCLUDED.address1,
	              address2 = EXCLUDED.address2,
	              city = EXCLUDED.city,
	              region = EXCLUDED.region,
	              post_code = EXCLUDED.post_code,
	              country = EXCLUDED.country,
	              updated_at = EXCLUDED.updated_at`

	_, err := t.q.ExecContext(ctx, query,
		userID, a.FullName, a.Address1, a.Address2, a.City, a.Region, a.PostCode, a.Country, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	return nil
}

func (r *Repository) GetAddress(ctx context.Context, userID string) (*domain.Address, error) {
	query := `SELECT full_name, address1, address2, city, region, post_code, country
	          FROM user_addresses WHERE user_id = $1`

	var a domain.Address
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&a.FullName,
		&a.Address1,
		&a.Address2,
		&a.City,
		&a.Region,
		&a.PostCode,
		&a.Country,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %w", err)
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
