package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/order-placement/internal/audit/application"
	"github.com/dmehra2102/order-placement/internal/audit/domain"
	"github.com/dmehra2102/order-placement/pkg/outbox"
	"github.com/dmehra2102/order-placement/pkg/tracing"
)

// appendLockKey serializes appenders so seq values commit in order and a
// cursor reader never skips a row that commits late.
const appendLockKey = 7_340_021

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Append writes the audit rows and one outbox row per event in a single
// transaction, so every stored event is also relayed.
func (r *Repository) Append(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return nil, fmt.Errorf("lock audit log: %w", err)
	}

	traceparent := tracing.Traceparent(ctx)
	stored := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		err := tx.QueryRow(ctx, `INSERT INTO audit_events (entity_type, entity_id, action, actor, occurred_at, before_state, after_state, reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING seq`,
			ev.EntityType, ev.EntityID, string(ev.Action), ev.Actor, ev.OccurredAt, nullJSON(ev.Before), nullJSON(ev.After), ev.Reason,
		).Scan(&ev.Seq)
		if err != nil {
			return nil, fmt.Errorf("insert audit event: %w", err)
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		err = outbox.Enqueue(ctx, tx, outbox.Event{
			AggregateType: ev.EntityType,
			AggregateID:   ev.EntityID,
			Type:          string(ev.Action),
			Payload:       payload,
			Headers:       map[string]string{"source": "audit-trail", "seq": strconv.FormatInt(ev.Seq, 10)},
			Traceparent:   traceparent,
		})
		if err != nil {
			return nil, fmt.Errorf("insert outbox row: %w", err)
		}
		stored = append(stored, ev)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *Repository) ListSince(ctx context.Context, after int64, limit int) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT seq, entity_type, entity_id, action, actor, occurred_at, before_state, after_state, reason
		FROM audit_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var action string
		var before, after []byte
		if err := rows.Scan(&ev.Seq, &ev.EntityType, &ev.EntityID, &action, &ev.Actor, &ev.OccurredAt, &before, &after, &ev.Reason); err != nil {
			return nil, err
		}
		ev.Action = domain.Action(action)
		ev.Before = before
		ev.After = after
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

var _ application.Repository = (*Repository)(nil)
