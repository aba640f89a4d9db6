package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
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

// payments consumes gateway outcomes from the payment topic and applies them
// to orders.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	service := cfg.ServiceName + "-payments"
	logger, err := logging.New(service, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, service, cfg.OTelEndpoint, cfg.OTelInsecure)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger.Named("kafka"))
	prod.Start(ctx)

	svc := &orders.Service{
		Store:       postgres.NewStore(db),
		Payments:    &payment.Fake{}, // intents are created by the API only
		Cache:       redisx.NewOrderCache(rdb, cfg.OrderCacheTTL),
		Events:      kafkax.EventWriter{Producer: prod},
		Logger:      logger,
		ServiceName: service,
		Currency:    cfg.PaymentCurrency,
	}
	handler := &payment.EventHandler{
		Orders: svc,
		Dedup:  redisx.NewDedup(rdb, "payments"),
		Logger: logger,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentsGroup, orders.TopicPaymentEvents, cfg.PaymentsWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("payments consumer started",
			zap.String("group", cfg.PaymentsGroup),
			zap.String("topic", orders.TopicPaymentEvents),
			zap.Int("workers", cfg.PaymentsWorkers))
		if err := cons.Start(ctx, handler.Handle); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done

	prod.Close()
	prod.WaitClosed()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
