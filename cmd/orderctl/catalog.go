package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/order-placement/internal/catalog"
)

// NewCatalogCommand seeds the Redis catalog for local runs.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Seed prices and customers in the Redis catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "price <sku> <cents>",
		Short: "Set the current price of a SKU",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || cents < 0 {
				return fmt.Errorf("cents must be a non-negative integer, got %q", args[1])
			}
			return catalog.NewRedis(opts.redis()).SetPrice(cmd.Context(), args[0], cents)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "customer <id>...",
		Short: "Register customers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return catalog.NewRedis(opts.redis()).AddCustomer(cmd.Context(), args...)
		},
	})
	return cmd
}
