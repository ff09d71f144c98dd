package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	"github.com/dmehra2102/order-placement/internal/catalog"
	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
	inventorydomain "github.com/dmehra2102/order-placement/internal/inventory/domain"
	"github.com/dmehra2102/order-placement/internal/orchestrator/domain"
	orderdomain "github.com/dmehra2102/order-placement/internal/order/domain"
)

const (
	DefaultReserveTimeout      = 2 * time.Second
	DefaultCompensationTimeout = 10 * time.Second
)

type LineRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Coordinator runs a placement as a saga over the ledger and the order store.
// Whatever happens, it returns only after every reservation it took is either
// committed into a confirmed order or handed back.
type Coordinator struct {
	log       *slog.Logger
	ledger    Ledger
	orders    OrderStore
	audit     AuditTrail
	catalog   Catalog
	customers Customers
	guard     *inventoryapp.Guard
	tracer    trace.Tracer

	reserveTimeout      time.Duration
	compensationTimeout time.Duration
	now                 func() time.Time
}

type Option func(*Coordinator)

func WithReserveTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.reserveTimeout = d
		}
	}
}

func WithCompensationTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.compensationTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(log *slog.Logger, ledger Ledger, orders OrderStore, audit AuditTrail, cat Catalog, customers Customers, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:                 log,
		ledger:              ledger,
		orders:              orders,
		audit:               audit,
		catalog:             cat,
		customers:           customers,
		guard:               inventoryapp.NewGuard(),
		tracer:              otel.Tracer("order-placement"),
		reserveTimeout:      DefaultReserveTimeout,
		compensationTimeout: DefaultCompensationTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// held pairs a reservation with the order line it was taken for.
type held struct {
	line int
	res  inventorydomain.Reservation
}

func (c *Coordinator) PlaceOrder(ctx context.Context, customerID string, reqs []LineRequest) (orderdomain.OrderID, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.customer_id", customerID), attribute.Int("order.lines", len(reqs)))

	id, err := c.placeOrder(ctx, customerID, reqs)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, inventorydomain.ErrInsufficientStock) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}
	span.SetAttributes(attribute.String("order.id", id.String()))
	return id, nil
}

func (c *Coordinator) placeOrder(ctx context.Context, customerID string, reqs []LineRequest) (orderdomain.OrderID, error) {
	lines, err := c.validate(ctx, customerID, reqs)
	if err != nil {
		return "", err
	}

	p := domain.NewPlacement(uuid.NewString(), customerID, c.now())
	log := c.log.With("placement_id", p.ID, "customer_id", customerID)

	reservations, err := c.reserve(ctx, lines)
	if err != nil {
		c.release(ctx, reservations)
		p.Advance(domain.StateCompensated, c.now(), err.Error())
		log.Warn("placement reservation failed", "err", err)
		c.recordReservationFailure(ctx, p, err)
		return "", err
	}
	p.Advance(domain.StateReserved, c.now(), "")

	orderID, err := c.orders.CreateOrder(ctx, customerID, lines)
	if err != nil {
		c.release(ctx, reservations)
		p.Advance(domain.StateCompensated, c.now(), err.Error())
		log.Error("placement persistence failed", "err", err)
		c.appendFailure(ctx, auditdomain.Event{
			EntityType: auditdomain.EntityPlacement,
			EntityID:   p.ID,
			Action:     auditdomain.ActionPlacementFailed,
			After:      auditdomain.Snapshot(p),
			Reason:     "create order: " + err.Error(),
		})
		return "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	p.OrderID = orderID.String()
	p.Advance(domain.StatePersisted, c.now(), "")
	log = log.With("order_id", orderID)

	committed, err := c.commit(ctx, reservations)
	if err != nil {
		c.revert(ctx, committed)
		c.release(ctx, reservations)
		c.failOrder(ctx, p, orderID, err)
		log.Error("placement commit failed", "err", err)
		if errors.Is(err, domain.ErrReservationExpired) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	p.Advance(domain.StateCommitted, c.now(), "")

	if err := c.confirm(ctx, orderID); err != nil {
		c.revert(ctx, committed)
		c.failOrder(ctx, p, orderID, err)
		log.Error("placement confirmation failed", "err", err)
		return "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	p.Advance(domain.StateConfirmed, c.now(), "")

	c.recordSuccess(ctx, orderID, committed)
	log.Info("order placed", "lines", len(lines))
	return orderID, nil
}

// validate checks the request and captures the current price of every line.
// It has no side effects.
func (c *Coordinator) validate(ctx context.Context, customerID string, reqs []LineRequest) ([]orderdomain.OrderLine, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, domain.Validation("customer id is required")
	}
	if len(reqs) == 0 {
		return nil, domain.Validation("order has no lines")
	}
	for i, r := range reqs {
		if strings.TrimSpace(r.SKU) == "" {
			return nil, domain.Validation("line %d: sku is required", i+1)
		}
		if r.Quantity <= 0 {
			return nil, domain.Validation("line %d: quantity must be positive, got %d", i+1, r.Quantity)
		}
	}

	ok, err := c.customers.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer lookup: %w", err)
	}
	if !ok {
		return nil, domain.Validation("unknown customer %q", customerID)
	}

	lines := make([]orderdomain.OrderLine, 0, len(reqs))
	for _, r := range reqs {
		price, err := c.catalog.GetCurrentPrice(ctx, r.SKU)
		if errors.Is(err, catalog.ErrUnknownSKU) {
			return nil, domain.Validation("unknown sku %q", r.SKU)
		}
		if err != nil {
			return nil, fmt.Errorf("price lookup %s: %w", r.SKU, err)
		}
		lines = append(lines, orderdomain.OrderLine{SKU: r.SKU, Quantity: r.Quantity, PriceCents: price})
	}
	return lines, nil
}

// reserve takes one reservation per line in SKU order while holding the
// placement guard for every SKU involved. On error it returns what it already
// holds so the caller can hand it back.
func (c *Coordinator) reserve(ctx context.Context, lines []orderdomain.OrderLine) ([]held, error) {
	ctx, cancel := context.WithTimeout(ctx, c.reserveTimeout)
	defer cancel()

	order := make([]int, len(lines))
	skus := make([]string, len(lines))
	for i, l := range lines {
		order[i] = i
		skus[i] = l.SKU
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return strings.Compare(lines[a].SKU, lines[b].SKU)
	})

	unlock, err := c.guard.LockAll(ctx, skus)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]held, 0, len(lines))
	for _, i := range order {
		res, err := c.ledger.Reserve(ctx, lines[i].SKU, lines[i].Quantity)
		if err != nil {
			return out, err
		}
		out = append(out, held{line: i, res: res})
	}
	return out, nil
}

// commit stops at the first token it cannot commit and returns the ones to
// revert. A Commit whose reply is lost may still have been applied, so it is
// retried once on a detached context; if that fails too the token is returned
// with the committed ones. Revert leaves a token that is still reserved alone
// and the following release frees it.
func (c *Coordinator) commit(ctx context.Context, reservations []held) ([]held, error) {
	committed := make([]held, 0, len(reservations))
	for _, h := range reservations {
		res, err := c.ledger.Commit(ctx, h.res.Token)
		if err != nil {
			res, err = c.recommit(ctx, h.res.Token, err)
		}
		if err != nil {
			return append(committed, h), fmt.Errorf("commit %s: %w", h.res.Token, err)
		}
		if res.Status != inventorydomain.StatusCommitted {
			return committed, fmt.Errorf("%w: token %s is %s", domain.ErrReservationExpired, h.res.Token, res.Status)
		}
		h.res = res
		committed = append(committed, h)
	}
	return committed, nil
}

func (c *Coordinator) recommit(ctx context.Context, token inventorydomain.Token, cause error) (inventorydomain.Reservation, error) {
	c.log.Warn("commit failed, retrying", "token", token, "err", cause)
	ctx, cancel := c.compensationContext(ctx)
	defer cancel()
	res, err := c.ledger.Commit(ctx, token)
	if err != nil {
		return inventorydomain.Reservation{}, errors.Join(cause, err)
	}
	return res, nil
}

// confirm moves the order to Confirmed. When the update reports an error the
// order is read back, since the write may have landed anyway.
func (c *Coordinator) confirm(ctx context.Context, orderID orderdomain.OrderID) error {
	_, err := c.orders.UpdateStatus(ctx, orderID, orderdomain.StatusConfirmed)
	if err == nil {
		return nil
	}
	readCtx, cancel := c.compensationContext(ctx)
	defer cancel()
	o, getErr := c.orders.GetOrder(readCtx, orderID)
	if getErr == nil && o.Status == orderdomain.StatusConfirmed {
		c.log.Warn("confirm reported an error but the order is confirmed", "order_id", orderID, "err", err)
		return nil
	}
	return err
}

// compensationContext keeps trace values but not the caller's cancellation, so
// a client hanging up cannot strand a reservation.
func (c *Coordinator) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.compensationTimeout)
}

func (c *Coordinator) release(ctx context.Context, reservations []held) {
	ctx, cancel := c.compensationContext(ctx)
	defer cancel()
	for _, h := range reservations {
		if _, err := c.ledger.Release(ctx, h.res.Token); err != nil {
			// The sweeper frees it once the lease runs out.
			c.log.Error("release reservation failed", "token", h.res.Token, "sku", h.res.SKU, "err", err)
		}
	}
}

func (c *Coordinator) revert(ctx context.Context, committed []held) {
	ctx, cancel := c.compensationContext(ctx)
	defer cancel()
	for _, h := range committed {
		if _, err := c.ledger.Revert(ctx, h.res.Token); err != nil {
			c.log.Error("revert reservation failed", "token", h.res.Token, "sku", h.res.SKU, "err", err)
		}
	}
}

// failOrder marks a persisted order Failed and records that as the single
// audit event of the attempt.
func (c *Coordinator) failOrder(ctx context.Context, p *domain.Placement, orderID orderdomain.OrderID, cause error) {
	ctx, cancel := c.compensationContext(ctx)
	defer cancel()

	p.Advance(domain.StateCompensated, c.now(), cause.Error())
	ev := auditdomain.Event{
		EntityType: auditdomain.EntityOrder,
		EntityID:   orderID.String(),
		Action:     auditdomain.ActionPlacementFailed,
		Reason:     cause.Error(),
	}
	before, err := c.orders.UpdateStatus(ctx, orderID, orderdomain.StatusFailed)
	if err != nil {
		c.log.Error("mark order failed", "order_id", orderID, "err", err)
		ev.After = auditdomain.Snapshot(p)
	} else {
		after := before
		after.Status = orderdomain.StatusFailed
		ev.Before = auditdomain.Snapshot(before.View())
		ev.After = auditdomain.Snapshot(failedOrder{View: after.View(), Placement: p})
	}
	c.appendFailure(ctx, ev)
}

type failedOrder struct {
	orderdomain.View
	Placement *domain.Placement `json:"placement"`
}

type reservationFailure struct {
	Placement *domain.Placement          `json:"placement"`
	Shortages []inventorydomain.Shortage `json:"shortages,omitempty"`
}

func (c *Coordinator) recordReservationFailure(ctx context.Context, p *domain.Placement, cause error) {
	ev := auditdomain.Event{
		EntityType: auditdomain.EntityPlacement,
		EntityID:   p.ID,
		Action:     auditdomain.ActionReservationFailed,
	}
	var stockErr *inventorydomain.InsufficientStockError
	switch {
	case errors.As(cause, &stockErr):
		ev.Reason = stockErr.Error()
		ev.After = auditdomain.Snapshot(reservationFailure{Placement: p, Shortages: stockErr.Shortages})
	case errors.Is(cause, inventorydomain.ErrConcurrencyTimeout):
		ev.Reason = "timeout"
		ev.After = auditdomain.Snapshot(reservationFailure{Placement: p})
	default:
		ev.Action = auditdomain.ActionPlacementFailed
		ev.Reason = "reserve: " + cause.Error()
		ev.After = auditdomain.Snapshot(p)
	}
	c.appendFailure(ctx, ev)
}

func (c *Coordinator) appendFailure(ctx context.Context, ev auditdomain.Event) {
	ctx, cancel := c.compensationContext(ctx)
	defer cancel()
	if _, err := c.audit.Append(ctx, ev); err != nil {
		c.log.Error("append failure audit event", "entity_id", ev.EntityID, "action", ev.Action, "err", err)
	}
}

type lineSnapshot struct {
	OrderID string `json:"order_id"`
	LineNo  int    `json:"line_no"`
	orderdomain.OrderLine
}

type decrementSnapshot struct {
	OrderID  string `json:"order_id"`
	Token    string `json:"token"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// recordSuccess appends one Create event for the order, one per line and one
// per inventory decrement. The order is already confirmed, so a failed append
// is logged rather than undoing the placement.
func (c *Coordinator) recordSuccess(ctx context.Context, orderID orderdomain.OrderID, committed []held) {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		c.log.Error("load confirmed order for audit", "order_id", orderID, "err", err)
		return
	}

	events := make([]auditdomain.Event, 0, 1+len(order.Lines)+len(committed))
	events = append(events, auditdomain.Event{
		EntityType: auditdomain.EntityOrder,
		EntityID:   orderID.String(),
		Action:     auditdomain.ActionCreate,
		After:      auditdomain.Snapshot(order.View()),
	})
	for i, line := range order.Lines {
		events = append(events, auditdomain.Event{
			EntityType: auditdomain.EntityOrderLine,
			EntityID:   fmt.Sprintf("%s/%d", orderID, i+1),
			Action:     auditdomain.ActionCreate,
			After:      auditdomain.Snapshot(lineSnapshot{OrderID: orderID.String(), LineNo: i + 1, OrderLine: line}),
		})
	}
	slices.SortFunc(committed, func(a, b held) int { return a.line - b.line })
	for _, h := range committed {
		events = append(events, auditdomain.Event{
			EntityType: auditdomain.EntityInventoryDecrement,
			EntityID:   h.res.Token.String(),
			Action:     auditdomain.ActionCreate,
			After: auditdomain.Snapshot(decrementSnapshot{
				OrderID:  orderID.String(),
				Token:    h.res.Token.String(),
				SKU:      h.res.SKU,
				Quantity: h.res.Quantity,
			}),
		})
	}

	ctx, cancel := c.compensationContext(ctx)
	defer cancel()
	if _, err := c.audit.Append(ctx, events...); err != nil {
		c.log.Error("append placement audit events", "order_id", orderID, "err", err)
	}
}

func (c *Coordinator) GetOrder(ctx context.Context, id orderdomain.OrderID) (orderdomain.View, error) {
	o, err := c.orders.GetOrder(ctx, id)
	if err != nil {
		return orderdomain.View{}, err
	}
	return o.View(), nil
}

func (c *Coordinator) CurrentAvailable(ctx context.Context, sku string) (int, error) {
	return c.ledger.CurrentAvailable(ctx, sku)
}

func (c *Coordinator) StreamAuditEvents(ctx context.Context, since int64) iter.Seq2[auditdomain.Event, error] {
	return c.audit.Stream(ctx, since)
}
