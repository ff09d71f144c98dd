package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditpg "github.com/dmehra2102/order-placement/internal/audit/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/config"
	"github.com/dmehra2102/order-placement/internal/inventory/application"
	invgrpc "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/grpc"
	inventoryDB "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/platform/postgres"
	"github.com/dmehra2102/order-placement/pkg/logging"
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

	tp, err := tracing.Init(ctx, "inventory-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

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

	repo := inventoryDB.NewRepository(log, pool)
	ledger := application.NewLedger(log, repo,
		application.WithReservationTTL(cfg.ReservationTTL),
		application.WithMaxWait(cfg.ReserveTimeout),
	)
	trail := auditapp.NewTrail(log, auditpg.NewRepository(log, pool))

	// gRPC server
	gs, err := invgrpc.Run(cfg.GRPCAddr, invgrpc.NewServer(log, ledger))
	if err != nil {
		log.Error("grpc server failed", "err", err)
		os.Exit(1)
	}
	log.Info("grpc listening", "addr", cfg.GRPCAddr)

	g, ctx := errgroup.WithContext(ctx)
	sweeper := application.NewSweeper(log, ledger, trail, cfg.SweepInterval)
	g.Go(func() error { return sweeper.Run(ctx) })
	g.Go(shutdown.OnDone(ctx, 10*time.Second, func(stopCtx context.Context) error {
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-stopCtx.Done():
			gs.Stop()
		}
		return nil
	}))

	if err := g.Wait(); err != nil {
		log.Error("inventory-service stopped with error", "err", err)
	}
	log.Info("inventory-service shutdown")
}
