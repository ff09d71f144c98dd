package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmehra2102/order-placement/internal/inventory/domain"
)

// Ledger is the slice of the inventory ledger exposed remotely.
type Ledger interface {
	Reserve(ctx context.Context, sku string, qty int) (domain.Reservation, error)
	Commit(ctx context.Context, token domain.Token) (domain.Reservation, error)
	Release(ctx context.Context, token domain.Token) (domain.Reservation, error)
	Revert(ctx context.Context, token domain.Token) (domain.Reservation, error)
	CurrentAvailable(ctx context.Context, sku string) (int, error)
}

type Server struct {
	log    *slog.Logger
	ledger Ledger
}

func NewServer(log *slog.Logger, ledger Ledger) *Server {
	return &Server{log: log, ledger: ledger}
}

func (s *Server) Reserve(ctx context.Context, req *ReserveRequest) (*ReservationReply, error) {
	res, err := s.ledger.Reserve(ctx, req.SKU, req.Quantity)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return ToReply(res), nil
}

func (s *Server) Commit(ctx context.Context, req *TokenRequest) (*ReservationReply, error) {
	res, err := s.ledger.Commit(ctx, domain.Token(req.Token))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return ToReply(res), nil
}

func (s *Server) Release(ctx context.Context, req *TokenRequest) (*ReservationReply, error) {
	res, err := s.ledger.Release(ctx, domain.Token(req.Token))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return ToReply(res), nil
}

func (s *Server) Revert(ctx context.Context, req *TokenRequest) (*ReservationReply, error) {
	res, err := s.ledger.Revert(ctx, domain.Token(req.Token))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return ToReply(res), nil
}

func (s *Server) CurrentAvailable(ctx context.Context, req *AvailableRequest) (*AvailableReply, error) {
	n, err := s.ledger.CurrentAvailable(ctx, req.SKU)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &AvailableReply{SKU: req.SKU, Available: n}, nil
}

func (s *Server) toStatus(ctx context.Context, err error) error {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		if raw, mErr := json.Marshal(stockErr.Shortages); mErr == nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(ShortagesTrailer, string(raw)))
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConcurrencyTimeout):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrReservationNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		s.log.Error("ledger call failed", "err", err)
		return status.Error(codes.Internal, err.Error())
	}
}

func NewGRPCServer(srv *Server) *grpc.Server {
	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterLedgerServer(gs, srv)
	return gs
}

func Run(addr string, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := NewGRPCServer(srv)
	go func() {
		if err := gs.Serve(lis); err != nil {
			srv.log.Error("grpc serve stopped", "err", err)
		}
	}()
	return gs, nil
}
