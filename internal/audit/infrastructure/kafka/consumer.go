package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-placement/internal/audit/domain"
	"github.com/dmehra2102/order-placement/pkg/tracing"
)

// Deduper remembers which events a group already handled. Relay delivery is
// at least once, so the same seq can arrive twice.
type Deduper interface {
	EventKey(group string, seq int64) string
	Handled(ctx context.Context, key string) (bool, error)
	MarkHandled(ctx context.Context, key string) error
}

type Handler func(ctx context.Context, ev domain.Event) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer follows the audit topic for downstream readers.
type Consumer struct {
	log     *slog.Logger
	reader  reader
	group   string
	dedupe  Deduper
	handle  Handler
	tracer  trace.Tracer
	retries uint64
	backoff time.Duration
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, dedupe Deduper, handle Handler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return newConsumer(log, r, group, dedupe, handle)
}

func newConsumer(log *slog.Logger, r reader, group string, dedupe Deduper, handle Handler) *Consumer {
	return &Consumer{
		log:     log,
		reader:  r,
		group:   group,
		dedupe:  dedupe,
		handle:  handle,
		tracer:  otel.Tracer("audit-consumer"),
		retries: 3,
		backoff: 200 * time.Millisecond,
	}
}

// Run consumes until ctx is done. A message is committed only after its
// handler succeeded; when retries run out Run returns and the message is
// delivered again to the next member of the group.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var ev domain.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// A malformed message will never parse; skip it.
		c.log.Error("unmarshal audit event failed", "offset", msg.Offset, "err", err)
		return nil
	}

	var key string
	if c.dedupe != nil {
		key = c.dedupe.EventKey(c.group, ev.Seq)
		handled, err := c.dedupe.Handled(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "seq", ev.Seq, "err", err)
		} else if handled {
			c.log.Info("duplicate audit event skipped", "seq", ev.Seq)
			return nil
		}
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeAuditEvent")
	defer span.End()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.backoff), c.retries), ctx)
	err := backoff.Retry(func() error {
		err := c.handle(msgCtx, ev)
		if err != nil {
			c.log.Warn("audit event handler failed", "seq", ev.Seq, "err", err)
		}
		return err
	}, policy)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("handle audit event %d: %w", ev.Seq, err)
	}

	if key != "" {
		if err := c.dedupe.MarkHandled(ctx, key); err != nil {
			c.log.Error("mark audit event handled failed", "seq", ev.Seq, "err", err)
		}
	}
	return nil
}
