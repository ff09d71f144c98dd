package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditpg "github.com/dmehra2102/order-placement/internal/audit/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/config"
	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
	inventorypg "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/platform/postgres"
	"github.com/dmehra2102/order-placement/pkg/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Actor string

	cfg  *config.Config
	log  *slog.Logger
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operator tool for the order placement core",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = logging.NewTo(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.pool != nil {
				opts.pool.Close()
			}
			if opts.rdb != nil {
				_ = opts.rdb.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "orderctl", "actor recorded on audit events")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))

	return cmd
}

func (o *RootOptions) db(ctx context.Context) (*pgxpool.Pool, error) {
	if o.pool != nil {
		return o.pool, nil
	}
	pool, err := postgres.Open(ctx, o.cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	return pool, nil
}

func (o *RootOptions) redis() *redis.Client {
	if o.rdb == nil {
		o.rdb = redis.NewClient(&redis.Options{Addr: o.cfg.RedisAddr})
	}
	return o.rdb
}

func (o *RootOptions) ledger(ctx context.Context) (*inventoryapp.Ledger, error) {
	pool, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	return inventoryapp.NewLedger(o.log, inventorypg.NewRepository(o.log, pool),
		inventoryapp.WithReservationTTL(o.cfg.ReservationTTL),
	), nil
}

func (o *RootOptions) trail(ctx context.Context) (*auditapp.Trail, error) {
	pool, err := o.db(ctx)
	if err != nil {
		return nil, err
	}
	return auditapp.NewTrail(o.log, auditpg.NewRepository(o.log, pool)), nil
}

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the placement tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := opts.db(cmd.Context())
			if err != nil {
				return err
			}
			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
