package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	r "github.com/fjod/storefront/internal/repository"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *r.Repository {
	creds := &r.Credentials{
		Driver:            r.DriverSQLite,
		Path:              filepath.Join(t.TempDir(), "storefront.db"),
		MigrationsDirPath: "../repository/migrations",
	}
	repo, err := r.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedProduct(t *testing.T, repo *r.Repository, name string, price int64, stock int) *domain.Product {
	p := &domain.Product{
		Name:            name,
		Description:     name,
		Price:           price,
		PictureURL:      "/images/" + name + ".png",
		Category:        "boards",
		QuantityInStock: stock,
	}
	require.NoError(t, repo.CreateProduct(context.Background(), p))
	return p
}

var shipTo = domain.Address{
	FullName: "Alice Doe",
	Address1: "12 Ponsonby Rd",
	City:     "Auckland",
	Region:   "Auckland",
	PostCode: "1011",
	Country:  "NZ",
}

// mockCache implements cache.BasketCache and cache.EventLog in memory.
type mockCache struct {
	m        sync.RWMutex
	views    map[string]*domain.BasketView
	versions map[string]int64
	recorded map[string]bool
	err      error
	setDelay time.Duration
	gets     int
}

func newMockCache() *mockCache {
	return &mockCache{
		views:    map[string]*domain.BasketView{},
		versions: map[string]int64{},
		recorded: map[string]bool{},
	}
}

func (m *mockCache) Get(_ context.Context, buyerKey string) (*domain.BasketView, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.views[buyerKey]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *mockCache) Version(_ context.Context, buyerKey string) (int64, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.versions[buyerKey], m.err
}

func (m *mockCache) Set(_ context.Context, buyerKey string, v *domain.BasketView, version int64) error {
	m.m.RLock()
	delay := m.setDelay
	m.m.RUnlock()
	time.Sleep(delay)

	m.m.Lock()
	defer m.m.Unlock()
	if m.versions[buyerKey] != version {
		return cache.ErrStaleVersion
	}
	m.views[buyerKey] = v
	return m.err
}

func (m *mockCache) Delete(_ context.Context, buyerKey string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.versions[buyerKey]++
	delete(m.views, buyerKey)
	return m.err
}

func (m *mockCache) Seen(_ context.Context, eventID string) (bool, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return false, m.err
	}
	return m.recorded[eventID], nil
}

func (m *mockCache) Record(_ context.Context, eventID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.recorded[eventID] = true
	return m.err
}

func (m *mockCache) cached(buyerKey string) *domain.BasketView {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.views[buyerKey]
}

func (m *mockCache) isRecorded(eventID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.recorded[eventID]
}

var errInjected = errors.New("injected failure")

// failingTx runs the real transaction but fails the step named by failOn,
// after every earlier step has already written.
type failingTx struct {
	repo   *r.Repository
	failOn string
}

func (f *failingTx) WithinTx(ctx context.Context, fn func(r.TxStore) error) error {
	return f.repo.WithinTx(ctx, func(tx r.TxStore) error {
		return fn(&failingStore{TxStore: tx, failOn: f.failOn})
	})
}

type failingStore struct {
	r.TxStore
	failOn string
}

func (s *failingStore) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	if s.failOn == "InsertOrder" {
		return 0, errInjected
	}
	return s.TxStore.InsertOrder(ctx, o)
}

func (s *failingStore) DeleteBasket(ctx context.Context, id int64) error {
	if s.failOn == "DeleteBasket" {
		return errInjected
	}
	return s.TxStore.DeleteBasket(ctx, id)
}

func (s *failingStore) InsertOutboxEvent(ctx context.Context, e *r.OutboxEvent) error {
	if s.failOn == "InsertOutboxEvent" {
		return errInjected
	}
	return s.TxStore.InsertOutboxEvent(ctx, e)
}

func (s *failingStore) UpdateOrderStatus(ctx context.Context, id int64, from, to domain.OrderStatus) error {
	if s.failOn == "UpdateOrderStatus" {
		return errInjected
	}
	return s.TxStore.UpdateOrderStatus(ctx, id, from, to)
}

// panickingTx aborts the real transaction with a panic at UpdateOrderStatus,
// the way a crash mid-settlement would.
type panickingTx struct {
	repo *r.Repository
}

func (p *panickingTx) WithinTx(ctx context.Context, fn func(r.TxStore) error) error {
	return p.repo.WithinTx(ctx, func(tx r.TxStore) error {
		return fn(&panickingStore{TxStore: tx})
	})
}

type panickingStore struct {
	r.TxStore
}

func (s *panickingStore) UpdateOrderStatus(context.Context, int64, domain.OrderStatus, domain.OrderStatus) error {
	panic("connection reset mid-transaction")
}

// paymentRepo swaps the transaction runner of a real repository.
type paymentRepo struct {
	*r.Repository
	tx TxRunner
}

func (p *paymentRepo) WithinTx(ctx context.Context, fn func(r.TxStore) error) error {
	return p.tx.WithinTx(ctx, fn)
}

// stubGateway counts calls and can be told to fail.
type stubGateway struct {
	*payment.MockGateway
	mu      sync.Mutex
	creates int
	updates int
	err     error
}

func newStubGateway() *stubGateway {
	return &stubGateway{MockGateway: payment.NewMockGateway()}
}

func (g *stubGateway) CreateIntent(ctx context.Context, amount int64, currency string) (*payment.Intent, error) {
	g.mu.Lock()
	g.creates++
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.MockGateway.CreateIntent(ctx, amount, currency)
}

func (g *stubGateway) UpdateIntent(ctx context.Context, reference string, amount int64) error {
	g.mu.Lock()
	g.updates++
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.MockGateway.UpdateIntent(ctx, reference, amount)
}

func (g *stubGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.updates
}
