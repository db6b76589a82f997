package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/larder/larder-backend/internal/inventory/consumers"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/handler"
	"github.com/larder/larder-backend/internal/inventory/memstore"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/i18n"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

const serviceName = "inventory-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(serviceName, cfg.Server.Environment, cfg.Server.LogLevel)
	log.Info().Str("store", cfg.Inventory.StoreDriver).Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := map[string]func(context.Context) interface{}{}

	// Storage
	var stores service.Stores
	switch cfg.Inventory.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("using in-memory store, stock is lost on restart")
		mem := memstore.New()
		stores = service.Stores{Tx: mem, Items: mem, Batches: mem, Portions: mem, Ledger: mem, Transfers: mem, Users: mem}
	default:
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		db.SetTimeouts(cfg.Database.LockTimeout, cfg.Database.StatementTimeout)

		if err := repository.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
		stores = service.Stores{
			Tx:        db,
			Items:     repository.NewItemRepository(db),
			Batches:   repository.NewBatchRepository(db),
			Portions:  repository.NewPortionRepository(db),
			Ledger:    repository.NewLedgerRepository(db),
			Transfers: repository.NewTransferRepository(db),
			Users:     repository.NewUserCacheRepository(db),
		}
		health["database"] = func(ctx context.Context) interface{} { return db.Health(ctx) }
	}

	// Messaging is optional: without a broker events are dropped and no
	// sales are consumed.
	var rmq *messaging.RabbitMQ
	var publisher *events.InventoryEventPublisher
	if cfg.RabbitMQ.Enabled() {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}
		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		health["rabbitmq"] = func(context.Context) interface{} { return rmq.Health() }
	} else {
		log.Warn().Msg("RABBITMQ_URL not set, running without messaging")
	}

	// Services
	engine := service.NewStockEngine(stores, publisher, log)
	svcs := handler.Services{
		Engine:    engine,
		Catalog:   service.NewCatalogService(stores, publisher, log),
		Transfers: service.NewTransferService(stores, publisher, log),
		Ledger:    service.NewLedgerService(stores, publisher, log),
		Query:     service.NewStockQuery(stores, publisher, log),
	}

	if rmq != nil {
		saleConsumer, err := consumers.NewSaleEventConsumer(rmq, cfg.RabbitMQ.SalesQueue,
			consumers.NewSaleEventHandler(engine, log), log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sale event consumer")
		}
		userConsumer, err := consumers.NewUserEventConsumer(rmq, cfg.RabbitMQ.UsersQueue,
			consumers.NewUserEventHandler(stores.Users, log), log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create user event consumer")
		}

		startConsumers := func() error {
			if err := saleConsumer.Start(ctx); err != nil {
				return err
			}
			return userConsumer.Start(ctx)
		}
		if err := startConsumers(); err != nil {
			log.Fatal().Err(err).Msg("failed to start consumers")
		}
		go rmq.Watch(ctx, startConsumers)
	}

	if cfg.Inventory.ScanInterval > 0 {
		scanner := service.NewStockScanner(stores, publisher, cfg.Inventory.ScanInterval, log)
		scanner.Start(ctx)
		defer scanner.Stop()
	}

	h := handler.New(svcs, cfg.Inventory.DefaultPerPage, cfg.Inventory.MaxPerPage, log)

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
			"store":   cfg.Inventory.StoreDriver,
		}
		for name, check := range health {
			body[name] = check(r.Context())
		}
		httputil.JSON(w, http.StatusOK, body)
	})

	auth := httputil.AuthConfig{
		Secret:             cfg.JWT.Secret,
		Issuer:             cfg.JWT.Issuer,
		ElevatedPermission: cfg.Inventory.ElevatedPermission,
	}
	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(httputil.Authenticate(auth, log))
		h.Routes(r)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers and the scanner before draining HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
