package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
	"github.com/dmitrijs2005/attendkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func decode(in *structpb.Struct, v any) error {
	if err := rpc.Decode(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func (s *GRPCServer) encode(ctx context.Context, v any) (*structpb.Struct, error) {
	out, err := rpc.Encode(v)
	if err != nil {
		s.logger.Error(ctx, "encode response", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// authError maps sign-in and refresh failures onto gRPC codes.
func (s *GRPCServer) authError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	s.logger.Error(ctx, "auth failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

// rowError maps row store failures onto gRPC codes.
func (s *GRPCServer) rowError(ctx context.Context, err error) error {
	if errors.Is(err, common.ErrUnknownTable) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Error(ctx, "row store failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

// caller returns the authenticated user. A request naming another user is
// refused.
func caller(ctx context.Context, requested string) (string, error) {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing token")
	}
	if requested != "" && requested != userID {
		return "", status.Error(codes.PermissionDenied, "rows of another user")
	}
	return userID, nil
}

func session(u *models.User, p *services.TokenPair) rpc.Session {
	return rpc.Session{UserID: u.ID, Email: u.Email, AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

func (s *GRPCServer) SignIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.SignInRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	user, pair, err := s.auth.SignInWithGoogle(ctx, req.IDToken)
	if err != nil {
		return nil, s.authError(ctx, err)
	}

	s.logger.Info(ctx, "Signed in", "user_id", user.ID)
	return s.encode(ctx, session(user, pair))
}

func (s *GRPCServer) Refresh(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.RefreshRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	user, pair, err := s.auth.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.authError(ctx, err)
	}
	return s.encode(ctx, session(user, pair))
}

func (s *GRPCServer) Ping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.encode(ctx, rpc.PingResponse{Status: "OK"})
}

func (s *GRPCServer) Select(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.SelectRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	userID, err := caller(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	rows, err := s.rows.Select(ctx, userID, req.Table)
	if err != nil {
		return nil, s.rowError(ctx, err)
	}
	return s.encode(ctx, rpc.SelectResponse{Rows: rows})
}

func (s *GRPCServer) Upsert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.UpsertRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	userID, err := caller(ctx, "")
	if err != nil {
		return nil, err
	}

	written, failed, err := s.rows.Upsert(ctx, userID, req.Table, req.Rows)
	if err != nil {
		return nil, s.rowError(ctx, err)
	}
	if len(failed) > 0 {
		s.logger.Warn(ctx, "rows rejected", "table", req.Table, "written", written, "failed", len(failed))
	}
	return s.encode(ctx, rpc.UpsertResponse{Written: written, Failed: failed})
}

func (s *GRPCServer) SoftDelete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.SoftDeleteRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	userID, err := caller(ctx, "")
	if err != nil {
		return nil, err
	}

	n, err := s.rows.SoftDelete(ctx, userID, req.Table, req.IDs, req.At)
	if err != nil {
		return nil, s.rowError(ctx, err)
	}
	return s.encode(ctx, rpc.SoftDeleteResponse{Updated: int(n)})
}

func (s *GRPCServer) DeleteByProfiles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.DeleteByProfilesRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	userID, err := caller(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	n, err := s.rows.DeleteByProfiles(ctx, userID, req.Table, req.ProfileIDs)
	if err != nil {
		return nil, s.rowError(ctx, err)
	}
	return s.encode(ctx, rpc.DeleteByProfilesResponse{Deleted: int(n)})
}

func (s *GRPCServer) PresignSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := caller(ctx, "")
	if err != nil {
		return nil, err
	}

	key, url, err := s.snapshots.PresignPut(ctx, userID)
	if err != nil {
		s.logger.Error(ctx, "presign snapshot", "error", err)
		return nil, status.Error(codes.Unavailable, "snapshot storage unavailable")
	}
	return s.encode(ctx, rpc.PresignResponse{Key: key, URL: url})
}
