package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey int

const userIDKey ctxKey = iota

const (
	BuyerCookie    = "buyerId"
	buyerCookieTTL = 30 * 24 * time.Hour
)

// AuthMiddleware validates an HS256 bearer token and puts its subject in the
// request context as the user id. Requests without a token pass through as
// anonymous; a present but invalid token is rejected.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.Fields(auth)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				respondError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}

			var claims jwt.RegisteredClaims
			token, err := parser.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				respondError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

// buyerFrom resolves who is calling: the logged-in user, else the anonymous
// buyer cookie, else the zero key.
func buyerFrom(r *http.Request) domain.BuyerKey {
	if userID := getUserIDFromContext(r.Context()); userID != "" {
		return domain.Authenticated(userID)
	}
	return anonymousFrom(r)
}

func anonymousFrom(r *http.Request) domain.BuyerKey {
	if c, err := r.Cookie(BuyerCookie); err == nil && c.Value != "" {
		return domain.Anonymous(c.Value)
	}
	return domain.BuyerKey{}
}

// ensureBuyer returns the caller's buyer key, minting an anonymous token and
// handing it back as a cookie when the caller has none.
func ensureBuyer(w http.ResponseWriter, r *http.Request) domain.BuyerKey {
	if buyer := buyerFrom(r); !buyer.IsZero() {
		return buyer
	}
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     BuyerCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(buyerCookieTTL),
		MaxAge:   int(buyerCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return domain.Anonymous(token)
}

func clearBuyerCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     BuyerCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequestIDMiddleware echoes the chi request id back to the caller.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestID := middleware.GetReqID(r.Context()); requestID != "" {
			w.Header().Set(middleware.RequestIDHeader, requestID)
		}
		next.ServeHTTP(w, r)
	})
}

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter hands out one token bucket per client IP. Buckets idle for
// longer than idleTTL are dropped on the next sweep.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	lastScan time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		lastScan: time.Now(),
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastScan) > l.idleTTL {
		for k, v := range l.limiters {
			if now.Sub(v.last) > l.idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastScan = now
	}

	lim, ok := l.limiters[ip]
	if !ok {
		lim = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = lim
	}
	lim.last = now
	return lim.limiter.Allow()
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(remoteIP(r)) {
			respondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
