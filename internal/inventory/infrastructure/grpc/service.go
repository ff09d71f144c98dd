package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

const (
	ServiceName = "inventory.v1.Ledger"

	// ShortagesTrailer carries the JSON shortages of an insufficient stock
	// failure back to the client.
	ShortagesTrailer = "x-inventory-shortages"
)

type ReserveRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type AvailableRequest struct {
	SKU string `json:"sku"`
}

type AvailableReply struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
}

type ReservationReply struct {
	Token     string    `json:"token"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ToReply(r domain.Reservation) *ReservationReply {
	return &ReservationReply{
		Token:     r.Token.String(),
		SKU:       r.SKU,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *ReservationReply) Reservation() domain.Reservation {
	return domain.Reservation{
		Token:     domain.Token(r.Token),
		SKU:       r.SKU,
		Quantity:  r.Quantity,
		Status:    domain.ReservationStatus(r.Status),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// LedgerServer is what the service descriptor dispatches to.
type LedgerServer interface {
	Reserve(context.Context, *ReserveRequest) (*ReservationReply, error)
	Commit(context.Context, *TokenRequest) (*ReservationReply, error)
	Release(context.Context, *TokenRequest) (*ReservationReply, error)
	Revert(context.Context, *TokenRequest) (*ReservationReply, error)
	CurrentAvailable(context.Context, *AvailableRequest) (*AvailableReply, error)
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds a method handler for one LedgerServer call.
func unary[Req any, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Reserve", LedgerServer.Reserve),
		unary("Commit", LedgerServer.Commit),
		unary("Release", LedgerServer.Release),
		unary("Revert", LedgerServer.Revert),
		unary("CurrentAvailable", LedgerServer.CurrentAvailable),
	},
	Streams: []grpc.StreamDesc{},
}

// MethodReserve and friends are the full method names clients invoke.
var (
	MethodReserve          = fullMethod("Reserve")
	MethodCommit           = fullMethod("Commit")
	MethodRelease          = fullMethod("Release")
	MethodRevert           = fullMethod("Revert")
	MethodCurrentAvailable = fullMethod("CurrentAvailable")
)
