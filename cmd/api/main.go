package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/observability"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTelEndpoint, cfg.OTelInsecure)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis", zap.Error(err))
	}

	// Kafka producer for lifecycle events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger.Named("kafka"))
	prod.Start(ctx)

	var (
		gateway orders.PaymentGateway
		webhook httpx.WebhookParser
	)
	switch cfg.PaymentGateway {
	case config.GatewayStripe:
		gateway = payment.NewStripe(cfg.StripeSecretKey, nil)
		if cfg.StripeWebhookSecret != "" {
			webhook = payment.Webhook{Secret: cfg.StripeWebhookSecret}
		} else {
			logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhook route disabled")
		}
	case config.GatewayFake:
		logger.Warn("PAYMENT_GATEWAY=fake: payments are approved without a charge")
		gateway = &payment.Fake{}
	}

	svc := &orders.Service{
		Store:       postgres.NewStore(db),
		Payments:    gateway,
		Idem:        redisx.NewIdempotencyStore(rdb, cfg.IdempotencyTTL),
		Cache:       redisx.NewOrderCache(rdb, cfg.OrderCacheTTL),
		Events:      kafkax.EventWriter{Producer: prod},
		Logger:      logger,
		ServiceName: cfg.ServiceName,
		Currency:    cfg.PaymentCurrency,
	}
	jwt := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)

	router := httpx.NewRouter(logger, cfg.RequestTimeout)
	(&httpx.OrdersHandler{Orders: svc, Auth: jwt}).Register(router)
	(&httpx.PaymentsHandler{Orders: svc, Auth: jwt, Webhook: webhook}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()
	prod.WaitClosed()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
