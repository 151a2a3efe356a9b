package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Basket   BasketService
	Checkout CheckoutService
	Orders   OrderService
	Payments PaymentService
	Catalog  ProductCatalog
	Health   HealthChecker
	Metrics  *metrics.Metrics

	JWTSecret      []byte
	RequestTimeout time.Duration
	MaxBodySize    int64
	RateLimit      float64
	RateBurst      int
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 1 << 20 // 1MB
	}

	basketHandler := NewBasketHandler(cfg.Basket, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(cfg.Checkout, cfg.Orders, cfg.RequestTimeout)
	paymentsHandler := NewPaymentsHandler(cfg.Payments, cfg.RequestTimeout, cfg.MaxBodySize)
	productHandler := NewProductHandler(cfg.Catalog, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cfg.Metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health.Ping(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
		}

		// The gateway signs the raw body; no bearer token, no compression.
		r.Post("/payments/webhook", paymentsHandler.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))
			r.Use(middleware.Compress(5))
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodySize)
					next.ServeHTTP(w, r)
				})
			})

			r.Get("/products", productHandler.List)
			r.Get("/products/{id}", productHandler.Get)

			r.Route("/basket", func(r chi.Router) {
				r.Get("/", basketHandler.GetBasket)
				r.Post("/", basketHandler.AddItem)
				r.Delete("/", basketHandler.RemoveItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordersHandler.ListOrders)
				r.Post("/", ordersHandler.CreateOrder)
				r.Get("/{id}", ordersHandler.GetOrder)
			})

			r.Post("/payments", paymentsHandler.CreateOrUpdatePaymentIntent)

			r.Post("/account/basket", basketHandler.MergeOnLogin)
			r.Get("/account/address", ordersHandler.SavedAddress)
		})
	})

	return otelhttp.NewHandler(r, "storefront",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
