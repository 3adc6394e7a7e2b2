package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/joao-fontenele/bookstore-checkout/internal/cart"
	"github.com/joao-fontenele/bookstore-checkout/internal/checkout"
	"github.com/joao-fontenele/bookstore-checkout/internal/config"
	"github.com/joao-fontenele/bookstore-checkout/internal/messaging"
	"github.com/joao-fontenele/bookstore-checkout/internal/outbox"
	"github.com/joao-fontenele/bookstore-checkout/internal/payment"
	"github.com/joao-fontenele/bookstore-checkout/internal/replenishment"
	"github.com/joao-fontenele/bookstore-checkout/internal/sessioncache"
	"github.com/joao-fontenele/bookstore-checkout/internal/storage/postgres"
	"github.com/joao-fontenele/bookstore-checkout/internal/telemetry"
)

const (
	serviceName    = "bookstore"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := telemetry.NewLogger(os.Stdout, serviceName)

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Warn("runtime metrics unavailable", "error", err)
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store := postgres.NewStore(db, cfg.LockTimeout)

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var payments payment.Adapter
	if cfg.SandboxPayments() {
		logger.Warn("PAYMENT_SANDBOX enabled, every payment session is auto-approved")
		payments = payment.NewFake(payment.AutoPay())
	} else {
		payments = payment.NewHostedClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, cfg.PaymentSuccessURL, cfg.PaymentCancelURL, httpClient)
	}

	scheduler := replenishment.NewScheduler(replenishment.WithPolicy(replenishment.Multiplier(cfg.ReorderMultiplier)))
	coordOpts := []checkout.Option{checkout.WithScheduler(scheduler)}

	if cfg.RedisURL != "" {
		client, err := sessioncache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()
		coordOpts = append(coordOpts, checkout.WithSessionCache(sessioncache.New(client, serviceName, cfg.SessionCacheTTL)))
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers)
		defer func() { _ = producer.Close() }()

		relay := outbox.NewRelay(store, producer, logger,
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithInterval(cfg.OutboxPollInterval),
		)
		go func() {
			defer close(relayDone)
			_ = relay.Run(relayCtx)
		}()
	} else {
		logger.Warn("KAFKA_BROKERS not set, outbox events are kept until a relay runs")
		close(relayDone)
	}

	router := newRouter(services{
		logger:        logger,
		store:         store,
		cart:          cart.NewService(store, logger, cfg.CartMaxLineQty),
		checkout:      checkout.NewCoordinator(store, payments, logger, coordOpts...),
		replenishment: replenishment.NewService(store, logger, time.Now),
		webhookSecret: cfg.PaymentWebhookSecret,
		metrics:       metricsHandler,
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(router, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting bookstore service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stopRelay()
	<-relayDone
	logger.Info("stopped", slog.String("service", serviceName))
}
