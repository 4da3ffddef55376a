package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"restaurant-orders/internal/config"
	"restaurant-orders/internal/currency"
	"restaurant-orders/internal/database"
	"restaurant-orders/internal/inventory"
	"restaurant-orders/internal/invoice"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/loyalty"
	"restaurant-orders/internal/messaging"
	"restaurant-orders/internal/pricing"
	"restaurant-orders/internal/push"
	"restaurant-orders/internal/realtime"
	"restaurant-orders/internal/services/fulfillment"
	"restaurant-orders/internal/services/notification"
	"restaurant-orders/internal/services/order"
	"restaurant-orders/internal/tax"
	"restaurant-orders/internal/telemetry"
	"restaurant-orders/internal/waitlist"
)

const (
	modeOrderService           = "order-service"
	modeFulfillmentWorker      = "fulfillment-worker"
	modeNotificationSubscriber = "notification-subscriber"
)

func main() {
	var (
		mode          = flag.String("mode", "", "Service mode (order-service, fulfillment-worker, notification-subscriber)")
		configPath    = flag.String("config", "config.yaml", "Path to the YAML configuration")
		port          = flag.Int("port", 0, "HTTP port, overrides http.port")
		prefetch      = flag.Int("prefetch", 0, "RabbitMQ prefetch count, overrides rabbitmq.prefetch")
		migrationsDir = flag.String("migrations", "migrations", "Directory with SQL migrations")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.HTTP.Port = *port
	}
	if *prefetch > 0 {
		cfg.RabbitMQ.Prefetch = *prefetch
	}

	log := logger.NewWithWriter(*mode, os.Stdout, cfg.Log.Level)
	requestID := logger.GenerateRequestID()

	log.Info("service_starting", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode": *mode,
		"port": cfg.HTTP.Port,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, cfg.Telemetry, *mode)
	if err != nil {
		log.Error("telemetry_failed", "Failed to initialize telemetry", requestID, err, nil)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry_shutdown_failed", "Failed to flush telemetry", requestID, err, nil)
		}
	}()

	switch *mode {
	case modeOrderService:
		err = runOrderService(ctx, cfg, log, tel, *migrationsDir)
	case modeFulfillmentWorker:
		err = runFulfillmentWorker(ctx, cfg, log, tel)
	case modeNotificationSubscriber:
		err = runNotificationSubscriber(ctx, cfg, log, tel)
	default:
		log.Error("validation_failed", fmt.Sprintf("Unknown mode: %s", *mode), requestID, nil, nil)
		os.Exit(1)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runOrderService serves the HTTP API.
func runOrderService(ctx context.Context, cfg *config.Config, log *logger.Logger, tel *telemetry.Provider, migrationsDir string) error {
	requestID := logger.GenerateRequestID()

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	log.Info("db_connected", "Connected to PostgreSQL database", requestID, nil)

	if err := db.RunMigrations(ctx, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()
	log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, nil)

	redisClient, err := realtime.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	log.Info("redis_connected", "Connected to Redis", requestID, nil)

	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return err
	}
	converter, err := currency.NewConverter(cfg.Currency)
	if err != nil {
		return err
	}

	catalog := database.NewCatalogRepository(db)
	publisher := messaging.NewPublisher(conn, log)

	svc := order.NewService(order.Deps{
		Orders:    database.NewOrderRepository(db),
		Catalog:   catalog,
		Pricing:   calc,
		Taxes:     tax.NewResolver(catalog),
		Waitlist:  waitlist.NewEstimator(cfg.Waitlist),
		Events:    publisher,
		Tasks:     publisher,
		Telemetry: tel,
		Logger:    log,
	})
	defer svc.Wait()

	live := realtime.NewRedisPublisher(redisClient)
	handler := order.NewHandler(svc, log, order.HandlerOptions{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Converter:      converter,
		Live:           realtime.NewFeed(redisClient, log),
		HealthChecks: map[string]func(ctx context.Context) error{
			"database": db.Ping,
			"rabbitmq": conn.Ping,
			"redis":    live.Ping,
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           otelhttp.NewHandler(handler.Routes(), "order-service"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("Order service started on port %d", cfg.HTTP.Port), requestID, map[string]interface{}{
			"port": cfg.HTTP.Port,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	log.Info("graceful_shutdown", "Shutting down HTTP server", requestID, nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runFulfillmentWorker applies the side effects of completed orders.
func runFulfillmentWorker(ctx context.Context, cfg *config.Config, log *logger.Logger, tel *telemetry.Provider) error {
	requestID := logger.GenerateRequestID()

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()
	log.Info("dependencies_connected", "Connected to PostgreSQL and RabbitMQ", requestID, nil)

	catalog := database.NewCatalogRepository(db)
	effects := database.NewEffectRepository(db)
	tasks := database.NewTaskRepository(db)
	publisher := messaging.NewPublisher(conn, log)

	// Failed deliveries are rejected into the retry exchange, which holds
	// them for RetryDelay before routing them back.
	consumer := messaging.NewConsumer(conn, log, messaging.FulfillmentQueue, "fulfillment-worker", messaging.ConsumerOptions{
		Prefetch:       cfg.RabbitMQ.Prefetch,
		RequeueOnError: false,
	})

	worker := fulfillment.NewWorker(fulfillment.Deps{
		Orders:      database.NewOrderRepository(db),
		Tasks:       tasks,
		Inventory:   inventory.NewLedger(catalog, effects, log),
		Invoices:    invoice.NewIssuer(effects),
		Loyalty:     loyalty.NewAllocator(effects),
		DeadLetters: publisher,
		Consumer:    consumer,
		Relay:       fulfillment.NewRelay(tasks, publisher, cfg.Fulfillment.RelayInterval, log),
		MaxAttempts: cfg.Fulfillment.MaxAttempts,
		Logger:      log,
		Telemetry:   tel,
	})
	return worker.Start(ctx)
}

// runNotificationSubscriber delivers order events to realtime and push.
func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, tel *telemetry.Provider) error {
	requestID := logger.GenerateRequestID()

	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	redisClient, err := realtime.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	log.Info("dependencies_connected", "Connected to RabbitMQ and Redis", requestID, nil)

	if cfg.Push.BaseURL == "" {
		log.Warn("push_disabled", "push.base_url is empty, push notifications are off", requestID, nil)
	}

	dispatcher := notification.NewDispatcher(realtime.NewRedisPublisher(redisClient), push.NewClient(cfg.Push), log, tel)
	consumer := messaging.NewConsumer(conn, log, messaging.NotificationsQueue, "notification-subscriber", messaging.ConsumerOptions{
		Prefetch: cfg.RabbitMQ.Prefetch,
	})
	return notification.NewSubscriber(consumer, dispatcher, log).Start(ctx)
}
