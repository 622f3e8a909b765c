package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acme/reliable/internal/config"
	"github.com/acme/reliable/internal/domain"
	"github.com/acme/reliable/internal/infrastructure/kafka"
	"github.com/acme/reliable/internal/infrastructure/postgres"
	"github.com/acme/reliable/internal/infrastructure/rabbitmq"
	"github.com/acme/reliable/internal/messaging"
	"github.com/acme/reliable/internal/pkg/logger"
	"github.com/acme/reliable/internal/relay"
	"github.com/acme/reliable/internal/sample"
	"github.com/acme/reliable/internal/service"
	"github.com/acme/reliable/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "reliable").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	if err := postgres.EnsureSchema(rootCtx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("schema apply failed")
	}

	db := postgres.New(dbPool)

	// ---- Brokers ----
	queue := rabbitmq.NewQueue(cfg.RabbitURL)
	defer queue.Close()

	events, err := kafka.NewPublisher(cfg.KafkaBrokers)
	if err != nil {
		log.Fatal().Err(err).Msg("kafka publisher create failed")
	}
	defer events.Close()

	// ---- Handlers ----
	registry := domain.NewHandlerRegistry()
	registry.Register("CreateUser", sample.CreateUser)

	// Pre-declare destinations so consumers can bind before first send.
	declared := make([]string, 0, len(registry.Names())+1)
	for _, name := range registry.Names() {
		declared = append(declared, cfg.Naming.CommandQueue(name))
	}
	declared = append(declared, cfg.Naming.ReplyQueue)
	if err := queue.Declare(declared...); err != nil {
		log.Warn().Err(err).Msg("queue pre-declaration failed (continuing; relay will retry)")
	}

	// ---- Engine ----
	rows := messaging.NewRowFactory(cfg.Naming)
	rly := relay.New(db.Outbox(), queue, events, cfg.MaxBackoff)
	fastPath := relay.NewFastPath(rly)

	bus := service.NewCommandBus(db, rows, fastPath)
	executor := service.NewExecutor(db, db.Commands(), registry, rows, cfg.Naming, fastPath, cfg.CommandLease)
	responses := service.NewResponseRegistry(cfg.ReplyTTL)

	consumer := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.Naming, executor, responses, registry.Names())
	if err := consumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("rabbitmq consumer start failed")
	}

	relay.NewSweeper(rly, cfg.SweepInterval, cfg.SweepBatch).Start(rootCtx)
	service.NewLeaseReaper(db.Commands(), cfg.ReapInterval).Start(rootCtx)

	// ---- HTTP ----
	h := rest.NewHandler(bus, db.Commands(), responses, cfg.Naming, cfg.SyncWait)
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:          h,
		RateLimitEnabled: cfg.RLEnabled,
		RateLimit:        cfg.RLLimit,
		RateWindow:       cfg.RLWindow,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.SyncWait + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
