package domain

import (
	"errors"
	"strings"
)

type BuyerKind int

const (
	BuyerAnonymous BuyerKind = iota + 1
	BuyerAuthenticated
)

// BuyerKey identifies whose basket a call operates on: either an anonymous
// device token or an authenticated user id.
type BuyerKey struct {
	kind BuyerKind
	id   string
}

func Anonymous(token string) BuyerKey {
	return BuyerKey{kind: BuyerAnonymous, id: token}
}

func Authenticated(userID string) BuyerKey {
	return BuyerKey{kind: BuyerAuthenticated, id: userID}
}

func (b BuyerKey) ID() string            { return b.id }
func (b BuyerKey) Kind() BuyerKind       { return b.kind }
func (b BuyerKey) IsAnonymous() bool     { return b.kind == BuyerAnonymous }
func (b BuyerKey) IsAuthenticated() bool { return b.kind == BuyerAuthenticated }

// IsZero reports whether the key carries no identity at all, i.e. an
// anonymous caller that has not been issued a token yet.
func (b BuyerKey) IsZero() bool { return b.id == "" }

const (
	anonymousPrefix     = "anon:"
	authenticatedPrefix = "user:"
)

var ErrInvalidBuyerKey = errors.New("invalid buyer key")

// Key is the form a buyer is stored and cached under. The variant prefix
// keeps an anonymous token equal to a user id from addressing that user's
// basket or orders.
func (b BuyerKey) Key() string {
	if b.id == "" {
		return ""
	}
	switch b.kind {
	case BuyerAuthenticated:
		return authenticatedPrefix + b.id
	case BuyerAnonymous:
		return anonymousPrefix + b.id
	default:
		return ""
	}
}

func (b BuyerKey) String() string {
	if k := b.Key(); k != "" {
		return k
	}
	return "unknown"
}

// ParseBuyerKey is the inverse of Key.
func ParseBuyerKey(key string) (BuyerKey, error) {
	if id, ok := strings.CutPrefix(key, authenticatedPrefix); ok && id != "" {
		return Authenticated(id), nil
	}
	if id, ok := strings.CutPrefix(key, anonymousPrefix); ok && id != "" {
		return Anonymous(id), nil
	}
	return BuyerKey{}, ErrInvalidBuyerKey
}

// BuyerIDFromKey returns the bare id of a stored key, or the key itself when
// it carries no variant prefix.
func BuyerIDFromKey(key string) string {
	if b, err := ParseBuyerKey(key); err == nil {
		return b.ID()
	}
	return key
}

// MergeOnLogin decides which basket survives when an anonymous buyer logs in
// as user. An existing anonymous basket wins outright and is re-keyed to the
// user, replacing whatever the user had; items are not combined. Without an
// anonymous basket the user's own basket (possibly nil) is kept.
func MergeOnLogin(anonymous, user *Basket, to BuyerKey) *Basket {
	if anonymous == nil {
		return user
	}
	anonymous.BuyerID = to.Key()
	return anonymous
}
