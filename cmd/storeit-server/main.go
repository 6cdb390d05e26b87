package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/storeit-dev/storeit/internal/config"
	"github.com/storeit-dev/storeit/pkg/idempotency"
	"github.com/storeit-dev/storeit/pkg/logging"
	"github.com/storeit-dev/storeit/pkg/outbox"
	"github.com/storeit-dev/storeit/pkg/shutdown"
	"github.com/storeit-dev/storeit/pkg/tracing"

	invapp "github.com/storeit-dev/storeit/internal/inventory/application"
	invhttp "github.com/storeit-dev/storeit/internal/inventory/infrastructure/http"
	invpg "github.com/storeit-dev/storeit/internal/inventory/infrastructure/postgres"
	orderapp "github.com/storeit-dev/storeit/internal/order/application"
	orderhttp "github.com/storeit-dev/storeit/internal/order/infrastructure/http"
	orderpg "github.com/storeit-dev/storeit/internal/order/infrastructure/postgres"
	payapp "github.com/storeit-dev/storeit/internal/payment/application"
	payhttp "github.com/storeit-dev/storeit/internal/payment/infrastructure/http"
	paypg "github.com/storeit-dev/storeit/internal/payment/infrastructure/postgres"
)

const webhookCacheTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "storeit-server", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	writer := outbox.NewWriter(cfg.KafkaBrokers)
	defer func() { _ = writer.Close() }()

	// Repositories and schema.
	invRepo := invpg.NewRepository(log, pool)
	orderRepo := orderpg.NewRepository(log, pool)
	uow := paypg.NewUnitOfWork(log, pool)
	outboxStore := outbox.NewPGStore(log, pool)
	for _, ensure := range []func(context.Context) error{
		invRepo.EnsureSchema,
		orderRepo.EnsureSchema,
		uow.EnsureSchema,
		outboxStore.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			log.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
	}

	// Services.
	invService := invapp.NewService(log, invRepo, cfg.MaxReservationLines)
	orderService := orderapp.NewService(log, orderRepo, invService)
	cache := idempotency.NewCache(rdb, webhookCacheTTL)
	payService := payapp.NewService(log, uow, cache, cfg.WebhookSecret, cfg.WebhookTolerance)

	sweeper := invapp.NewSweeper(log, invService, invRepo, cfg.SweepInterval)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "storeit-server-relay", cfg.RelayInterval)

	// HTTP surface.
	r := chi.NewRouter()
	invhttp.NewHandler(log, invService, cfg.ReservationTTL).Register(r)
	orderhttp.NewHandler(log, orderService).Register(r)
	payhttp.NewHandler(log, payService).Register(r)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sweeper stopped with error", "err", err)
		}
	}()
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay stopped with error", "err", err)
		}
	}()
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("storeit-server shutdown complete")
}
