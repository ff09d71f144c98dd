package application

import (
	"context"
	"log/slog"
	"time"

	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
)

const SweeperActor = "reservation-sweeper"

type AuditAppender interface {
	Append(ctx context.Context, events ...auditdomain.Event) ([]auditdomain.Event, error)
}

// Sweeper force-releases reservations whose lease expired, which only happens
// when a placement died between reserving and committing.
type Sweeper struct {
	log       *slog.Logger
	ledger    *Ledger
	audit     AuditAppender
	interval  time.Duration
	batchSize int
}

func NewSweeper(log *slog.Logger, ledger *Ledger, audit AuditAppender, interval time.Duration) *Sweeper {
	return &Sweeper{
		log:       log,
		ledger:    ledger,
		audit:     audit,
		interval:  interval,
		batchSize: 100,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce releases one batch and returns how many reservations it freed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.ledger.Expired(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, res := range expired {
		after, changed, err := s.ledger.forceRelease(ctx, res.Token)
		if err != nil {
			s.log.Error("sweeper release failed", "token", res.Token, "err", err)
			continue
		}
		// Committed or released by its placement in the meantime.
		if !changed {
			continue
		}
		released++

		_, err = s.audit.Append(ctx, auditdomain.Event{
			EntityType: auditdomain.EntityReservation,
			EntityID:   res.Token.String(),
			Action:     auditdomain.ActionUpdate,
			Actor:      SweeperActor,
			Before:     auditdomain.Snapshot(res),
			After:      auditdomain.Snapshot(after),
			Reason:     "reservation lease expired",
		})
		if err != nil {
			s.log.Error("sweeper audit append failed", "token", res.Token, "err", err)
		}
		s.log.Warn("expired reservation released", "token", res.Token, "sku", res.SKU, "qty", res.Quantity)
	}
	return released, nil
}
