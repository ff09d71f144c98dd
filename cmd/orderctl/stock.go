package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
)

func NewStockCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect and set inventory",
	}
	cmd.AddCommand(newStockSetCommand(opts), newStockShowCommand(opts))
	return cmd
}

func newStockSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <sku> <available>",
		Short: "Set the available quantity of a SKU",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			available, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("available must be an integer: %w", err)
			}
			ctx := auditapp.WithActor(cmd.Context(), opts.Actor)
			ledger, err := opts.ledger(ctx)
			if err != nil {
				return err
			}
			trail, err := opts.trail(ctx)
			if err != nil {
				return err
			}
			return setStock(ctx, ledger, trail, args[0], available, cmd)
		},
	}
}

func setStock(ctx context.Context, ledger *inventoryapp.Ledger, trail *auditapp.Trail, sku string, available int, cmd *cobra.Command) error {
	before, _, err := ledger.Record(ctx, sku)
	if err != nil {
		return err
	}
	after, err := ledger.Restock(ctx, sku, available)
	if err != nil {
		return err
	}
	_, err = trail.Append(ctx, auditdomain.Event{
		EntityType: auditdomain.EntityInventoryRecord,
		EntityID:   sku,
		Action:     auditdomain.ActionUpdate,
		Before:     auditdomain.Snapshot(before),
		After:      auditdomain.Snapshot(after),
		Reason:     "restock",
	})
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(after)
}

func newStockShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sku>",
		Short: "Show the stock record of a SKU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := opts.ledger(cmd.Context())
			if err != nil {
				return err
			}
			rec, found, err := ledger.Record(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no stock record for %s", args[0])
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
		},
	}
}
