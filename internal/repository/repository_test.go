package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLite(t *testing.T) (*Repository, func()) {
	creds := &Credentials{
		Driver:            DriverSQLite,
		Path:              filepath.Join(t.TempDir(), "storefront.db"),
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	return repo, func() { repo.Close() }
}

func setupPostgres(t *testing.T) (*Repository, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Driver:            DriverPostgres,
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

// forEachDriver runs fn against sqlite and, unless -short is set, against a
// postgres container.
func forEachDriver(t *testing.T, fn func(t *testing.T, repo *Repository)) {
	t.Run("sqlite", func(t *testing.T) {
		repo, cleanup := setupSQLite(t)
		defer cleanup()
		fn(t, repo)
	})
	t.Run("postgres", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping postgres container test in short mode")
		}
		repo, cleanup := setupPostgres(t)
		defer cleanup()
		fn(t, repo)
	})
}

func seedProduct(t *testing.T, repo *Repository, name string, price int64, stock int) *domain.Product {
	p := &domain.Product{
		Name:            name,
		Description:     name + " description",
		Price:           price,
		PictureURL:      "/images/" + name + ".png",
		Category:        "hats",
		QuantityInStock: stock,
	}
	require.NoError(t, repo.CreateProduct(context.Background(), p))
	return p
}

func seedBasket(t *testing.T, repo *Repository, buyer string, lines map[*domain.Product]int) *domain.Basket {
	b := domain.NewBasket(domain.Anonymous(buyer))
	for p, qty := range lines {
		require.NoError(t, b.AddItem(p, qty))
	}
	require.NoError(t, repo.SaveBasket(context.Background(), b))
	return b
}

var testAddress = domain.Address{
	FullName: "Bob Smith",
	Address1: "1 Queen St",
	City:     "Auckland",
	Region:   "Auckland",
	PostCode: "1010",
	Country:  "NZ",
}

func TestSaveAndGetBasket(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		hat := seedProduct(t, repo, "hat", 1500, 10)
		boots := seedProduct(t, repo, "boots", 9000, 3)

		b := domain.NewBasket(domain.Anonymous("buyer-1"))
		require.NoError(t, b.AddItem(boots, 1))
		require.NoError(t, b.AddItem(hat, 2))
		require.NoError(t, repo.SaveBasket(ctx, b))
		assert.NotZero(t, b.ID)

		fetched, err := repo.GetBasket(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, b.ID, fetched.ID)
		assert.Equal(t, domain.PaymentNone, fetched.Payment.State())
		require.Len(t, fetched.Items, 2)
		assert.Equal(t, boots.ID, fetched.Items[0].ProductID)
		assert.Equal(t, hat.ID, fetched.Items[1].ProductID)
		assert.Equal(t, 2, fetched.Items[1].Quantity)
		require.NotNil(t, fetched.Items[1].Product)
		assert.Equal(t, int64(1500), fetched.Items[1].Product.Price)

		// the next read reflects the live catalog price
		hat.Price = 1800
		require.NoError(t, repo.UpdateProduct(ctx, hat))
		fetched, err = repo.GetBasket(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1800), fetched.Items[1].Product.Price)

		require.NoError(t, fetched.RemoveItem(boots.ID, 1))
		require.NoError(t, repo.SaveBasket(ctx, fetched))
		fetched, err = repo.GetBasket(ctx, "buyer-1")
		require.NoError(t, err)
		require.Len(t, fetched.Items, 1)
		assert.Equal(t, hat.ID, fetched.Items[0].ProductID)
	})
}

func TestGetBasket_NotFound(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		_, err := repo.GetBasket(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrBasketNotFound)
	})
}

func TestBindPayment_FirstWriteWins(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		hat := seedProduct(t, repo, "hat", 1500, 10)
		b := seedBasket(t, repo, "buyer-1", map[*domain.Product]int{hat: 1})

		require.NoError(t, repo.BindPayment(ctx, b.ID, "pi_1", ""))
		fetched, err := repo.GetBasket(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, fetched.Payment.State())

		require.NoError(t, repo.BindPayment(ctx, b.ID, "pi_2", "pi_1_secret"))
		fetched, err = repo.GetBasket(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentBound, fetched.Payment.State())
		assert.Equal(t, "pi_1", fetched.Payment.Reference())
		assert.Equal(t, "pi_1_secret", fetched.Payment.Secret())

		require.NoError(t, repo.BindPayment(ctx, b.ID, "pi_3", "pi_3_secret"))
		fetched, err = repo.GetBasket(ctx, "buyer-1")
		require.NoError(t, err)
		assert.Equal(t, "pi_1", fetched.Payment.Reference())
		assert.Equal(t, "pi_1_secret", fetched.Payment.Secret())

		assert.ErrorIs(t, repo.BindPayment(ctx, 9999, "pi_x", "s"), ErrBasketNotFound)
	})
}

func TestTransferBasket(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		hat := seedProduct(t, repo, "hat", 1500, 10)
		boots := seedProduct(t, repo, "boots", 9000, 3)
		seedBasket(t, repo, "anon-token", map[*domain.Product]int{hat: 2})
		seedBasket(t, repo, "bob", map[*domain.Product]int{boots: 1})

		require.NoError(t, repo.TransferBasket(ctx, "anon-token", "bob"))

		_, err := repo.GetBasket(ctx, "anon-token")
		assert.ErrorIs(t, err, ErrBasketNotFound)
		fetched, err := repo.GetBasket(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, fetched.Items, 1)
		assert.Equal(t, hat.ID, fetched.Items[0].ProductID)

		assert.ErrorIs(t, repo.TransferBasket(ctx, "anon-token", "bob"), ErrBasketNotFound)
	})
}

func TestCheckoutTransaction_Commits(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		hat := seedProduct(t, repo, "hat", 1500, 10)
		seedBasket(t, repo, "bob", map[*domain.Product]int{hat: 2})

		var orderID int64
		err := repo.WithinTx(ctx, func(tx TxStore) error {
			b, err := tx.GetBasket(ctx, "bob")
			if err != nil {
				return err
			}
			var items []domain.OrderItem
			for _, it := range b.Items {
				if err := tx.DecrementStock(ctx, it.ProductID, it.Quantity, domain.StockPermissive); err != nil {
					return err
				}
				items = append(items, domain.NewOrderItem(it.Product, it.Quantity))
			}
			order := domain.NewOrder("bob", testAddress, items, "pi_1")
			if orderID, err = tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			if err := tx.DeleteBasket(ctx, b.ID); err != nil {
				return err
			}
			if err := tx.UpsertAddress(ctx, "bob", testAddress); err != nil {
				return err
			}
			return tx.InsertOutboxEvent(ctx, &OutboxEvent{
				AggregateId: "1",
				EventType:   EventOrderCreated,
				Payload:     []byte(`{"orderId":1}`),
			})
		})
		require.NoError(t, err)

		p, err := repo.GetProduct(ctx, hat.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, p.QuantityInStock)

		_, err = repo.GetBasket(ctx, "bob")
		assert.ErrorIs(t, err, ErrBasketNotFound)

		order, err := repo.GetOrderByID(ctx, "bob", orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.Equal(t, "pi_1", order.PaymentReference)
		assert.Equal(t, int64(3000), order.Subtotal)
		assert.Equal(t, int64(500), order.DeliveryFee)
		assert.Equal(t, testAddress, order.ShippingAddress)
		require.Len(t, order.Items, 1)
		assert.Equal(t, "hat", order.Items[0].Name)

		addr, err := repo.GetAddress(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, testAddress, *addr)

		events, err := repo.GetUnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventOrderCreated, events[0].EventType)
		assert.JSONEq(t, `{"orderId":1}`, string(events[0].Payload))
	})
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		hat := seedProduct(t, repo, "hat", 1500, 10)
		seedBasket(t, repo, "bob", map[*domain.Product]int{hat: 2})
		boom := errors.New("boom")

		err := repo.WithinTx(ctx, func(tx TxStore) error {
			if err := tx.DecrementStock(ctx, hat.ID, 2, domain.StockPermissive); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		p, err := repo.GetProduct(ctx, hat.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, p.QuantityInStock)
		_, err = repo.GetBasket(ctx, "bob")
		assert.NoError(t, err)
	})
}

func TestDecrementStock_Policies(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		hat := seedProduct(t, repo, "hat", 1500, 1)

		err := repo.WithinTx(ctx, func(tx TxStore) error {
			return tx.DecrementStock(ctx, hat.ID, 2, domain.StockStrict)
		})
		assert.ErrorIs(t, err, ErrInsufficientStock)

		err = repo.WithinTx(ctx, func(tx TxStore) error {
			return tx.DecrementStock(ctx, hat.ID, 2, domain.StockPermissive)
		})
		require.NoError(t, err)
		p, err := repo.GetProduct(ctx, hat.ID)
		require.NoError(t, err)
		assert.Equal(t, -1, p.QuantityInStock)

		err = repo.WithinTx(ctx, func(tx TxStore) error {
			return tx.DecrementStock(ctx, 9999, 1, domain.StockStrict)
		})
		assert.ErrorIs(t, err, ErrProductNotFound)
	})
}

func insertOrder(t *testing.T, repo *Repository, buyer, reference string) int64 {
	ctx := context.Background()
	hat := seedProduct(t, repo, "hat-"+buyer+reference, 1500, 10)
	var id int64
	err := repo.WithinTx(ctx, func(tx TxStore) error {
		var err error
		order := domain.NewOrder(buyer, testAddress, []domain.OrderItem{domain.NewOrderItem(hat, 1)}, reference)
		id, err = tx.InsertOrder(ctx, order)
		return err
	})
	require.NoError(t, err)
	return id
}

func TestUpdateOrderStatus_CompareAndSet(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		id := insertOrder(t, repo, "bob", "pi_1")

		err := repo.WithinTx(ctx, func(tx TxStore) error {
			order, err := tx.GetOrderByPaymentReference(ctx, "pi_1")
			if err != nil {
				return err
			}
			return tx.UpdateOrderStatus(ctx, order.ID, order.Status, domain.OrderStatusPaymentReceived)
		})
		require.NoError(t, err)

		err = repo.WithinTx(ctx, func(tx TxStore) error {
			return tx.UpdateOrderStatus(ctx, id, domain.OrderStatusPending, domain.OrderStatusPaymentFailed)
		})
		assert.ErrorIs(t, err, ErrStatusConflict)

		err = repo.WithinTx(ctx, func(tx TxStore) error {
			return tx.UpdateOrderStatus(ctx, id, domain.OrderStatusPaymentReceived, domain.OrderStatusPaymentFailed)
		})
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)

		order, err := repo.GetOrderByPaymentReference(ctx, "pi_1")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPaymentReceived, order.Status)
	})
}

func TestInsertOrder_DuplicatePaymentReference(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		insertOrder(t, repo, "bob", "pi_1")

		err := repo.WithinTx(ctx, func(tx TxStore) error {
			_, err := tx.InsertOrder(ctx, domain.NewOrder("bob", testAddress, nil, "pi_1"))
			return err
		})
		assert.ErrorIs(t, err, ErrDuplicatePaymentReference)
	})
}

func TestOrdersAreScopedToBuyer(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		first := insertOrder(t, repo, "bob", "pi_1")
		second := insertOrder(t, repo, "bob", "pi_2")
		other := insertOrder(t, repo, "alice", "pi_3")

		orders, err := repo.ListOrdersByBuyer(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, second, orders[0].ID)
		assert.Equal(t, first, orders[1].ID)
		assert.Len(t, orders[0].Items, 1)

		_, err = repo.GetOrderByID(ctx, "bob", other)
		assert.ErrorIs(t, err, ErrOrderNotFound)

		_, err = repo.GetOrderByPaymentReference(ctx, "pi_missing")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestOutbox_MarkProcessed(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		ctx := context.Background()
		err := repo.WithinTx(ctx, func(tx TxStore) error {
			for _, id := range []string{"1", "2"} {
				if err := tx.InsertOutboxEvent(ctx, &OutboxEvent{
					AggregateId: id,
					EventType:   EventOrderStatusChanged,
					Payload:     []byte(`{}`),
				}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		events, err := repo.GetUnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)

		require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))

		events, err = repo.GetUnprocessedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "2", events[0].AggregateId)
	})
}

func TestGetAddress_NotFound(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo *Repository) {
		_, err := repo.GetAddress(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrAddressNotFound)
	})
}
