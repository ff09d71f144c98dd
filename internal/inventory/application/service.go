package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

const (
	DefaultReservationTTL = 2 * time.Minute
	DefaultMaxWait        = 3 * time.Second
)

// Ledger is the only writer of stock. Every mutation runs under the SKU guard
// and is persisted with a version compare-and-swap, so concurrent callers in
// other processes are retried rather than allowed to oversell.
type Ledger struct {
	log     *slog.Logger
	repo    StockRepository
	guard   *Guard
	tracer  trace.Tracer
	ttl     time.Duration
	maxWait time.Duration
	now     func() time.Time
}

type Option func(*Ledger)

func WithReservationTTL(d time.Duration) Option {
	return func(l *Ledger) { l.ttl = d }
}

// WithMaxWait bounds how long a single call keeps retrying version conflicts
// when the caller's context carries no deadline.
func WithMaxWait(d time.Duration) Option {
	return func(l *Ledger) { l.maxWait = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithGuard(g *Guard) Option {
	return func(l *Ledger) { l.guard = g }
}

func NewLedger(log *slog.Logger, repo StockRepository, opts ...Option) *Ledger {
	l := &Ledger{
		log:     log,
		repo:    repo,
		guard:   NewGuard(),
		tracer:  otel.Tracer("inventory-ledger"),
		ttl:     DefaultReservationTTL,
		maxWait: DefaultMaxWait,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve moves qty from available into a reservation. It fails without side
// effects when the SKU cannot cover qty; unknown SKUs have nothing available.
func (l *Ledger) Reserve(ctx context.Context, sku string, qty int) (domain.Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("inventory.sku", sku), attribute.Int("inventory.quantity", qty))

	if qty <= 0 {
		return domain.Reservation{}, domain.ErrInvalidQuantity
	}

	unlock, err := l.guard.Lock(ctx, sku)
	if err != nil {
		span.SetStatus(codes.Error, "guard timeout")
		return domain.Reservation{}, fmt.Errorf("reserve %s: %w", sku, err)
	}
	defer unlock()

	var res domain.Reservation
	err = l.retry(ctx, func() error {
		rec, _, err := l.repo.Get(ctx, sku)
		if err != nil {
			return backoff.Permanent(err)
		}
		if rec.Available < qty {
			return backoff.Permanent(&domain.InsufficientStockError{
				Shortages: []domain.Shortage{{SKU: sku, Requested: qty, Available: rec.Available}},
			})
		}

		now := l.now()
		next := rec
		next.SKU = sku
		next.Available -= qty
		next.Reserved += qty
		next.Version = rec.Version + 1
		next.UpdatedAt = now

		res = domain.Reservation{
			Token:     domain.Token(uuid.NewString()),
			SKU:       sku,
			Quantity:  qty,
			Status:    domain.StatusReserved,
			CreatedAt: now,
			ExpiresAt: now.Add(l.ttl),
			UpdatedAt: now,
		}
		return l.save(ctx, next, rec.Version, res)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return domain.Reservation{}, l.classify("reserve", sku, err)
	}

	span.SetAttributes(attribute.String("inventory.token", res.Token.String()))
	l.log.Debug("stock reserved", "sku", sku, "qty", qty, "token", res.Token)
	return res, nil
}

// Commit makes a reservation permanent. Tokens that are no longer reserved are
// returned unchanged.
func (l *Ledger) Commit(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	res, _, err := l.transition(ctx, "commit", token, domain.StatusReserved, domain.StatusCommitted, commitQty)
	return res, err
}

// Release hands reserved quantity back to available. Tokens that are no longer
// reserved are returned unchanged.
func (l *Ledger) Release(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	res, _, err := l.transition(ctx, "release", token, domain.StatusReserved, domain.StatusReleased, releaseQty)
	return res, err
}

// Revert undoes a committed reservation.
func (l *Ledger) Revert(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	res, _, err := l.transition(ctx, "revert", token, domain.StatusCommitted, domain.StatusReverted, revertQty)
	return res, err
}

// forceRelease is Release for the sweeper, which needs to know whether it or
// someone else finished the reservation.
func (l *Ledger) forceRelease(ctx context.Context, token domain.Token) (domain.Reservation, bool, error) {
	return l.transition(ctx, "expire", token, domain.StatusReserved, domain.StatusReleased, releaseQty)
}

func commitQty(rec *domain.Record, qty int) {
	rec.Reserved -= qty
}

func releaseQty(rec *domain.Record, qty int) {
	rec.Reserved -= qty
	rec.Available += qty
}

func revertQty(rec *domain.Record, qty int) {
	rec.Available += qty
}

func (l *Ledger) CurrentAvailable(ctx context.Context, sku string) (int, error) {
	rec, _, err := l.repo.Get(ctx, sku)
	if err != nil {
		return 0, fmt.Errorf("current available %s: %w", sku, err)
	}
	return rec.Available, nil
}

func (l *Ledger) Record(ctx context.Context, sku string) (domain.Record, bool, error) {
	return l.repo.Get(ctx, sku)
}

// Restock sets the available quantity for a SKU, creating the record if needed.
// Reserved quantity is left untouched.
func (l *Ledger) Restock(ctx context.Context, sku string, available int) (domain.Record, error) {
	if sku == "" || available < 0 {
		return domain.Record{}, domain.ErrInvalidQuantity
	}
	unlock, err := l.guard.Lock(ctx, sku)
	if err != nil {
		return domain.Record{}, fmt.Errorf("restock %s: %w", sku, err)
	}
	defer unlock()

	rec, _, err := l.repo.Get(ctx, sku)
	if err != nil {
		return domain.Record{}, fmt.Errorf("restock %s: %w", sku, err)
	}
	rec.SKU = sku
	rec.Available = available
	rec.UpdatedAt = l.now()
	saved, err := l.repo.Upsert(ctx, rec)
	if err != nil {
		return domain.Record{}, fmt.Errorf("restock %s: %w", sku, err)
	}
	l.log.Info("stock restocked", "sku", sku, "available", available)
	return saved, nil
}

func (l *Ledger) GetReservation(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	return l.repo.GetReservation(ctx, token)
}

// Expired lists reservations whose lease ran out while still held.
func (l *Ledger) Expired(ctx context.Context, limit int) ([]domain.Reservation, error) {
	return l.repo.ListExpired(ctx, l.now(), limit)
}

// transition moves token from one status to another and reports whether this
// call made the change.
func (l *Ledger) transition(ctx context.Context, op string, token domain.Token, from, to domain.ReservationStatus, apply func(*domain.Record, int)) (domain.Reservation, bool, error) {
	ctx, span := l.tracer.Start(ctx, "ledger."+op)
	defer span.End()
	span.SetAttributes(attribute.String("inventory.token", token.String()))

	current, err := l.repo.GetReservation(ctx, token)
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("%s %s: %w", op, token, err)
	}
	if current.Status != from {
		return current, false, nil
	}

	unlock, err := l.guard.Lock(ctx, current.SKU)
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("%s %s: %w", op, token, err)
	}
	defer unlock()

	var out domain.Reservation
	changed := false
	err = l.retry(ctx, func() error {
		res, err := l.repo.GetReservation(ctx, token)
		if err != nil {
			return backoff.Permanent(err)
		}
		if res.Status != from {
			out = res
			changed = false
			return nil
		}
		rec, _, err := l.repo.Get(ctx, res.SKU)
		if err != nil {
			return backoff.Permanent(err)
		}

		now := l.now()
		next := rec
		apply(&next, res.Quantity)
		next.Version = rec.Version + 1
		next.UpdatedAt = now
		res.Status = to
		res.UpdatedAt = now

		if err := l.save(ctx, next, rec.Version, res); err != nil {
			return err
		}
		out = res
		changed = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Reservation{}, false, l.classify(op, token.String(), err)
	}
	if changed {
		l.log.Debug("reservation "+string(out.Status), "token", token, "sku", out.SKU, "qty", out.Quantity)
	}
	return out, changed, nil
}

// save marks version conflicts as retryable and everything else as permanent.
func (l *Ledger) save(ctx context.Context, rec domain.Record, expected int64, res domain.Reservation) error {
	err := l.repo.SaveReservation(ctx, rec, expected, res)
	if err == nil || errors.Is(err, domain.ErrVersionConflict) {
		return err
	}
	return backoff.Permanent(err)
}

func (l *Ledger) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = l.maxWait
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (l *Ledger) classify(op, subject string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return err
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%s %s: %w: %v", op, subject, domain.ErrConcurrencyTimeout, err)
	default:
		return fmt.Errorf("%s %s: %w", op, subject, err)
	}
}
