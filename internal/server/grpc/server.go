// Package grpc exposes the row store services over gRPC.
package grpc

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
	"github.com/dmitrijs2005/attendkeeper/internal/server/services"
	"google.golang.org/grpc"
)

type AuthService interface {
	SignInWithGoogle(ctx context.Context, idToken string) (*models.User, *services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.User, *services.TokenPair, error)
}

type RowService interface {
	Select(ctx context.Context, userID, table string) ([]json.RawMessage, error)
	Upsert(ctx context.Context, userID, table string, rows []json.RawMessage) (int, []rpc.RowFailure, error)
	SoftDelete(ctx context.Context, userID, table string, ids []string, at time.Time) (int64, error)
	DeleteByProfiles(ctx context.Context, userID, table string, profileIDs []string) (int64, error)
}

type SnapshotService interface {
	PresignPut(ctx context.Context, userID string) (string, string, error)
}

// GRPCServer implements rpc.RowStoreServer.
type GRPCServer struct {
	address   string
	auth      AuthService
	rows      RowService
	snapshots SnapshotService
	logger    logging.Logger
	jwtSecret []byte
}

var _ rpc.RowStoreServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, as AuthService, rs RowService, ss SnapshotService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		auth:      as,
		rows:      rs,
		snapshots: ss,
		jwtSecret: []byte(secretKey),
	}
}

// newServer builds a gRPC server with the interceptors and the row store
// service registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	rpc.RegisterRowStoreServer(srv, s)
	return srv
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
