package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditkafka "github.com/dmehra2102/order-placement/internal/audit/infrastructure/kafka"
	auditpg "github.com/dmehra2102/order-placement/internal/audit/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/catalog"
	"github.com/dmehra2102/order-placement/internal/config"
	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
	inventorypg "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/postgres"
	orchestrator "github.com/dmehra2102/order-placement/internal/orchestrator/application"
	orderapp "github.com/dmehra2102/order-placement/internal/order/application"
	ordergrpc "github.com/dmehra2102/order-placement/internal/order/infrastructure/grpc"
	orderhttp "github.com/dmehra2102/order-placement/internal/order/infrastructure/http"
	orderpg "github.com/dmehra2102/order-placement/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/platform/postgres"
	"github.com/dmehra2102/order-placement/pkg/idempotency"
	"github.com/dmehra2102/order-placement/pkg/logging"
	"github.com/dmehra2102/order-placement/pkg/outbox"
	"github.com/dmehra2102/order-placement/pkg/shutdown"
	"github.com/dmehra2102/order-placement/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.NewWithLevel(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres setup
	pool, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Error("pg migrate failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	prices := catalog.NewRedis(rdb)

	trail := auditapp.NewTrail(log, auditpg.NewRepository(log, pool))
	store := orderapp.NewStore(log, orderpg.NewRepository(log, pool))

	g, ctx := errgroup.WithContext(ctx)

	// The ledger runs in process unless a remote inventory service is configured.
	var ledger orchestrator.Ledger
	if cfg.InventoryGRPCAddr != "" {
		client, err := ordergrpc.NewInventoryClient(log, cfg.InventoryGRPCAddr)
		if err != nil {
			log.Error("inventory client failed", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		ledger = client
		log.Info("using remote inventory ledger", "addr", cfg.InventoryGRPCAddr)
	} else {
		local := newLocalLedger(log, pool, cfg)
		sweeper := inventoryapp.NewSweeper(log, local, trail, cfg.SweepInterval)
		g.Go(func() error { return sweeper.Run(ctx) })
		ledger = local
	}

	coordinator := orchestrator.NewCoordinator(log, ledger, store, trail, prices, prices,
		orchestrator.WithReserveTimeout(cfg.ReserveTimeout),
	)

	// Outbox relay to Kafka
	writer := auditkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()
	dispatch := outbox.NewDispatcher(log, writer, cfg.AuditTopic)
	relay := outbox.NewRelay(log, outbox.NewPostgresStore(log, pool), dispatch, relayID("order-service"))
	g.Go(func() error { return relay.Run(ctx) })

	// HTTP server
	handler := orderhttp.NewHandler(log, coordinator).WithIdempotency(idempotency.Middleware(log, idem))
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.OnDone(ctx, 10*time.Second, srv.Shutdown))

	if err := g.Wait(); err != nil {
		log.Error("order-service stopped with error", "err", err)
	}
	log.Info("order-service shutdown complete")
}

func newLocalLedger(log *slog.Logger, pool *pgxpool.Pool, cfg *config.Config) *inventoryapp.Ledger {
	return inventoryapp.NewLedger(log, inventorypg.NewRepository(log, pool),
		inventoryapp.WithReservationTTL(cfg.ReservationTTL),
		inventoryapp.WithMaxWait(cfg.ReserveTimeout),
	)
}

func relayID(service string) string {
	host, err := os.Hostname()
	if err != nil {
		return service + "-relay"
	}
	return service + "-" + host
}
