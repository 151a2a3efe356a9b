package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// BasketCache holds basket views by buyer key. Every Delete bumps the key's
// version; Set stores a view only if the version it was read under is still
// current, so a fill racing an invalidation never resurrects a stale view.
type BasketCache interface {
	Get(ctx context.Context, buyerKey string) (*domain.BasketView, error)
	Version(ctx context.Context, buyerKey string) (int64, error)
	Set(ctx context.Context, buyerKey string, basket *domain.BasketView, version int64) error
	Delete(ctx context.Context, buyerKey string) error
}

// EventLog remembers which gateway events have already been applied. An
// event is recorded only after its effect is committed.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

var (
	ErrCacheMiss    = errors.New("cache miss")
	ErrStaleVersion = errors.New("basket invalidated since read")
)

// Noop is used when no redis address is configured. Every Get misses and
// no event is ever seen.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.BasketView, error)      { return nil, ErrCacheMiss }
func (Noop) Version(context.Context, string) (int64, error)               { return 0, nil }
func (Noop) Set(context.Context, string, *domain.BasketView, int64) error { return nil }
func (Noop) Delete(context.Context, string) error                         { return nil }
func (Noop) Seen(context.Context, string) (bool, error)                   { return false, nil }
func (Noop) Record(context.Context, string) error                         { return nil }
