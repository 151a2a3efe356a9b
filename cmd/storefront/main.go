package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/consumer"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	if err := run(); err != nil {
		slog.Error("storefront exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(telemetry.NewLogger(os.Stdout, cfg.LogLevel))
	slog.Info("storefront starting", "db_driver", cfg.DB.Driver, "gateway", cfg.Gateway, "stock_policy", cfg.StockPolicy)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "storefront", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Database
	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()
	if err := repo.RunMigrations(&cfg.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations completed")

	// Redis is optional: without it baskets are read straight from the
	// database and webhook dedup relies on the order status check alone.
	var (
		basketCache cache.BasketCache = cache.Noop{}
		eventLog    cache.EventLog    = cache.Noop{}
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		rc := cache.NewRedisCache(redisClient, cfg.BasketTTL)
		basketCache, eventLog = rc, rc
		slog.Info("redis connected", "addr", cfg.RedisAddr)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Payment gateway
	var gw payment.Gateway
	switch cfg.Gateway {
	case config.GatewayStripe:
		gw = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			BackendURL: cfg.StripeBackendURL,
			Timeout:    cfg.GatewayTimeout,
		})
	default:
		slog.Warn("using mock payment gateway")
		gw = payment.NewMockGateway()
	}
	gw = payment.NewBreakerGateway(gw, payment.BreakerSettings{})

	// Services
	basketService := service.NewBasketService(repo, repo, basketCache)
	checkoutService := service.NewCheckoutService(repo, basketCache, cfg.StockPolicy, m)
	orderService := service.NewOrderService(repo)
	paymentService := service.NewPaymentService(service.PaymentServiceConfig{
		Repo:     repo,
		Gateway:  gw,
		Verifier: payment.NewStripeWebhook(cfg.StripeWebhookSecret),
		Events:   eventLog,
		Cache:    basketCache,
		Currency: cfg.Currency,
		Metrics:  m,
	})

	router := h.NewRouter(h.RouterConfig{
		Basket:         basketService,
		Checkout:       checkoutService,
		Orders:         orderService,
		Payments:       paymentService,
		Catalog:        repo,
		Health:         repo,
		Metrics:        m,
		JWTSecret:      []byte(cfg.JWTSecret),
		RequestTimeout: cfg.RequestTimeout,
		MaxBodySize:    cfg.MaxRequestBody,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Ops gRPC: health and reflection
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchHealth(ctx, repo, healthServer)
	}()

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(repo, m, cfg.KafkaBrokers...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("outbox poller started", "brokers", cfg.KafkaBrokers, "topic", publisher.Topic)
			poller.Run(ctx)
			if err := poller.Close(); err != nil {
				slog.Warn("kafka writer close failed", "error", err)
			}
		}()
		if cfg.RedisAddr != "" {
			evictor := consumer.NewBasketEvictor(basketCache, publisher.Topic, cfg.KafkaBrokers...)
			wg.Add(1)
			go func() {
				defer wg.Done()
				evictor.Run(ctx)
				if err := evictor.Close(); err != nil {
					slog.Warn("kafka reader close failed", "error", err)
				}
			}()
		}
	} else {
		slog.Warn("KAFKA_BROKERS not set, outbox events stay in the database")
	}

	go func() {
		slog.Info("grpc ops listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	go func() {
		slog.Info("http listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	wg.Wait()

	slog.Info("storefront stopped")
	return runErr
}

// watchHealth reports NOT_SERVING over gRPC health while the database is
// unreachable.
func watchHealth(ctx context.Context, repo *repository.Repository, hs *health.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	set := func() {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := repo.Ping(pingCtx); err != nil {
			slog.Warn("database ping failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}

	set()
	for {
		select {
		case <-ticker.C:
			set()
		case <-ctx.Done():
			return
		}
	}
}
