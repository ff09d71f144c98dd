package main

import (
	"fmt"

	"github.com/spf13/cobra"

	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
)

func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release reservations whose lease has expired, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := opts.ledger(cmd.Context())
			if err != nil {
				return err
			}
			trail, err := opts.trail(cmd.Context())
			if err != nil {
				return err
			}
			n, err := inventoryapp.NewSweeper(opts.log, ledger, trail, opts.cfg.SweepInterval).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d expired reservations\n", n)
			return nil
		},
	}
}
