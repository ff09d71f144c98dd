package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	auditkafka "github.com/dmehra2102/order-placement/internal/audit/infrastructure/kafka"
	"github.com/dmehra2102/order-placement/internal/config"
	"github.com/dmehra2102/order-placement/pkg/idempotency"
)

func NewAuditCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
	}
	cmd.AddCommand(newAuditListCommand(opts), newAuditFollowCommand(opts))
	return cmd
}

func newAuditListCommand(opts *RootOptions) *cobra.Command {
	var since int64
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print audit events after a sequence number as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, err := opts.trail(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			for ev, err := range trail.Stream(cmd.Context(), since) {
				if err != nil {
					return err
				}
				if err := enc.Encode(ev); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events with a greater sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many events (0 means all)")
	return cmd
}

func newAuditFollowCommand(opts *RootOptions) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow audit events as the relay publishes them to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dedupe := idempotency.NewStore(opts.redis(), opts.cfg.IdempotencyTTL)
			enc := json.NewEncoder(cmd.OutOrStdout())
			consumer := auditkafka.NewConsumer(opts.log, opts.cfg.KafkaBrokers, opts.cfg.AuditTopic, group, dedupe,
				func(_ context.Context, ev auditdomain.Event) error {
					return enc.Encode(ev)
				})
			return consumer.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&group, "group", config.ConsumerGroup+"-orderctl", "kafka consumer group")
	return cmd
}
