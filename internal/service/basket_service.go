package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"golang.org/x/sync/singleflight"
)

// BasketRepository is the persistence the basket service needs.
// Consumers define this interface, not the SQL implementation.
type BasketRepository interface {
	GetBasket(ctx context.Context, buyerKey string) (*domain.Basket, error)
	SaveBasket(ctx context.Context, basket *domain.Basket) error
	TransferBasket(ctx context.Context, from, to string) error
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

type BasketService struct {
	repo    BasketRepository
	catalog ProductCatalog
	cache   cache.BasketCache
	sfg     singleflight.Group // Prevents cache stampede
}

func NewBasketService(repo BasketRepository, catalog ProductCatalog, c cache.BasketCache) *BasketService {
	if c == nil {
		c = cache.Noop{}
	}
	return &BasketService{
		repo:    repo,
		catalog: catalog,
		cache:   c,
	}
}

// Get returns the buyer's basket view. A buyer without a basket gets a
// NotFound error.
func (s *BasketService) Get(ctx context.Context, buyer domain.BuyerKey) (*domain.BasketView, error) {
	if buyer.IsZero() {
		return nil, domain.NotFound("Basket not found", repository.ErrBasketNotFound)
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(buyer.Key(), func() (interface{}, error) {
		view, err := s.cache.Get(ctx, buyer.Key())
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.WarnContext(ctx, "cache get error", "buyer", buyer.String(), "error", err)
		}

		// Read the version before the database so an invalidation landing
		// in between makes the fill below a no-op.
		version, verErr := s.cache.Version(ctx, buyer.Key())
		if verErr != nil {
			slog.WarnContext(ctx, "cache version error", "buyer", buyer.String(), "error", verErr)
		}

		basket, err := s.repo.GetBasket(ctx, buyer.Key())
		if errors.Is(err, repository.ErrBasketNotFound) {
			return nil, domain.NotFound("Basket not found", err)
		}
		if err != nil {
			return nil, domain.PersistenceFailure("Could not load basket", err)
		}

		view = domain.NewBasketView(basket)
		if verErr == nil {
			go s.fillCache(buyer, view, version)
		}
		return view, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.BasketView), nil
}

func (s *BasketService) fillCache(buyer domain.BuyerKey, view *domain.BasketView, version int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	errSet := s.cache.Set(ctx, buyer.Key(), view, version)
	switch {
	case errors.Is(errSet, cache.ErrStaleVersion):
		slog.Debug("basket changed during read, cache fill skipped", "buyer", buyer.String())
	case errSet != nil:
		slog.Warn("cache set error", "buyer", buyer.String(), "error", errSet)
	}
}

// AddItem adds quantity of a product to the buyer's basket, creating the
// basket on first use.
func (s *BasketService) AddItem(ctx context.Context, buyer domain.BuyerKey, productID int64, quantity int) (*domain.BasketView, error) {
	if buyer.IsZero() {
		return nil, domain.ValidationFailure("Missing buyer", nil)
	}
	if quantity <= 0 {
		return nil, domain.ValidationFailure("Quantity must be greater than 0", domain.ErrInvalidQuantity)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil, domain.NotFound("Product not found", err)
	}
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load product", err)
	}

	basket, err := s.repo.GetBasket(ctx, buyer.Key())
	switch {
	case errors.Is(err, repository.ErrBasketNotFound):
		basket = domain.NewBasket(buyer)
	case err != nil:
		return nil, domain.PersistenceFailure("Could not load basket", err)
	}

	if err := basket.AddItem(product, quantity); err != nil {
		return nil, domain.ValidationFailure("Could not add item", err)
	}

	if err := s.repo.SaveBasket(ctx, basket); err != nil {
		slog.ErrorContext(ctx, "repo save basket error", "buyer", buyer.String(), "error", err)
		return nil, domain.PersistenceFailure("Problem saving item to basket", err)
	}

	s.invalidateCache(buyer.Key())
	return domain.NewBasketView(basket), nil
}

func (s *BasketService) RemoveItem(ctx context.Context, buyer domain.BuyerKey, productID int64, quantity int) error {
	if quantity <= 0 {
		return domain.ValidationFailure("Quantity must be greater than 0", domain.ErrInvalidQuantity)
	}

	basket, err := s.repo.GetBasket(ctx, buyer.Key())
	if errors.Is(err, repository.ErrBasketNotFound) {
		return domain.NotFound("Basket not found", err)
	}
	if err != nil {
		return domain.PersistenceFailure("Could not load basket", err)
	}

	if err := basket.RemoveItem(productID, quantity); err != nil {
		return domain.NotFound("Item not found in basket", err)
	}

	if err := s.repo.SaveBasket(ctx, basket); err != nil {
		slog.ErrorContext(ctx, "repo save basket error", "buyer", buyer.String(), "error", err)
		return domain.PersistenceFailure("Problem removing item from the basket", err)
	}

	s.invalidateCache(buyer.Key())
	return nil
}

// MergeOnLogin hands the anonymous buyer's basket over to the user who just
// logged in. It returns the user's basket afterwards, or nil when the user
// has none.
func (s *BasketService) MergeOnLogin(ctx context.Context, anonymous, user domain.BuyerKey) (*domain.BasketView, error) {
	if !user.IsAuthenticated() {
		return nil, domain.Unauthenticated("Login required", nil)
	}

	if !anonymous.IsZero() && anonymous.Key() != user.Key() {
		anonBasket, err := s.loadOptional(ctx, anonymous)
		if err != nil {
			return nil, err
		}
		userBasket, err := s.loadOptional(ctx, user)
		if err != nil {
			return nil, err
		}

		kept := domain.MergeOnLogin(anonBasket, userBasket, user)
		if kept != nil && kept == anonBasket {
			if err := s.repo.TransferBasket(ctx, anonymous.Key(), user.Key()); err != nil && !errors.Is(err, repository.ErrBasketNotFound) {
				return nil, domain.PersistenceFailure("Could not transfer basket", err)
			}
			slog.InfoContext(ctx, "basket transferred on login", "from", anonymous.String(), "to", user.String())
		}
		s.invalidateCache(anonymous.Key())
		s.invalidateCache(user.Key())
	}

	view, err := s.Get(ctx, user)
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	return view, err
}

func (s *BasketService) loadOptional(ctx context.Context, buyer domain.BuyerKey) (*domain.Basket, error) {
	b, err := s.repo.GetBasket(ctx, buyer.Key())
	if errors.Is(err, repository.ErrBasketNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.PersistenceFailure("Could not load basket", err)
	}
	return b, nil
}

func (s *BasketService) invalidateCache(buyerKey string) {
	invalidateBasket(s.cache, buyerKey)
}

func invalidateBasket(c cache.BasketCache, buyerKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if errInvalidate := c.Delete(ctx, buyerKey); errInvalidate != nil {
		slog.Warn("cache invalidate error", "buyer", buyerKey, "error", errInvalidate)
	}
}
