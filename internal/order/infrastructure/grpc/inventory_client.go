package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	invgrpc "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/grpc"
	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

// InventoryClient talks to the inventory service's ledger and turns gRPC
// statuses back into inventory domain errors.
type InventoryClient struct {
	log  *slog.Logger
	conn *grpc.ClientConn
}

func NewInventoryClient(log *slog.Logger, addr string, opts ...grpc.DialOption) (*InventoryClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(invgrpc.CodecName)),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &InventoryClient{log: log, conn: conn}, nil
}

func (c *InventoryClient) Close() error {
	return c.conn.Close()
}

func (c *InventoryClient) Reserve(ctx context.Context, sku string, qty int) (domain.Reservation, error) {
	return c.reservation(ctx, invgrpc.MethodReserve, &invgrpc.ReserveRequest{SKU: sku, Quantity: qty})
}

func (c *InventoryClient) Commit(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	return c.reservation(ctx, invgrpc.MethodCommit, &invgrpc.TokenRequest{Token: token.String()})
}

func (c *InventoryClient) Release(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	return c.reservation(ctx, invgrpc.MethodRelease, &invgrpc.TokenRequest{Token: token.String()})
}

func (c *InventoryClient) Revert(ctx context.Context, token domain.Token) (domain.Reservation, error) {
	return c.reservation(ctx, invgrpc.MethodRevert, &invgrpc.TokenRequest{Token: token.String()})
}

func (c *InventoryClient) CurrentAvailable(ctx context.Context, sku string) (int, error) {
	out := new(invgrpc.AvailableReply)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, invgrpc.MethodCurrentAvailable, &invgrpc.AvailableRequest{SKU: sku}, out, grpc.Trailer(&trailer)); err != nil {
		return 0, fromStatus(err, trailer)
	}
	return out.Available, nil
}

func (c *InventoryClient) reservation(ctx context.Context, method string, in any) (domain.Reservation, error) {
	out := new(invgrpc.ReservationReply)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, method, in, out, grpc.Trailer(&trailer)); err != nil {
		return domain.Reservation{}, fromStatus(err, trailer)
	}
	return out.Reservation(), nil
}

func fromStatus(err error, trailer metadata.MD) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyTimeout, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		stockErr := &domain.InsufficientStockError{}
		if v := trailer.Get(invgrpc.ShortagesTrailer); len(v) > 0 {
			_ = json.Unmarshal([]byte(v[0]), &stockErr.Shortages)
		}
		return stockErr
	case codes.Aborted, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyTimeout, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrReservationNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrInvalidQuantity, st.Message())
	default:
		return fmt.Errorf("inventory service: %w", err)
	}
}
