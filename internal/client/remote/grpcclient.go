package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCClient talks to the row store server. It keeps the session tokens and
// refreshes an expired access token once per call.
type GRPCClient struct {
	cc     grpc.ClientConnInterface
	closer io.Closer
	logger logging.Logger

	mu        sync.RWMutex
	session   rpc.Session
	onSession func(rpc.Session)
}

var _ Remote = (*GRPCClient)(nil)

// Dial connects to the server at address. Extra options are applied after
// the defaults.
func Dial(address string, l logging.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{logger: l.With("module", "remote")}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	c.cc = conn
	c.closer = conn
	return c, nil
}

// NewGRPCClient wraps an existing connection. Tokens are attached by the
// caller's interceptors, if any.
func NewGRPCClient(cc grpc.ClientConnInterface, l logging.Logger) *GRPCClient {
	return &GRPCClient{cc: cc, logger: l.With("module", "remote")}
}

func (c *GRPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Session returns the current tokens.
func (c *GRPCClient) Session() rpc.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession restores previously saved tokens.
func (c *GRPCClient) SetSession(s rpc.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// OnSession registers a callback invoked whenever tokens change.
func (c *GRPCClient) OnSession(fn func(rpc.Session)) {
	c.mu.Lock()
	c.onSession = fn
	c.mu.Unlock()
}

func (c *GRPCClient) storeSession(s rpc.Session) {
	c.mu.Lock()
	c.session = s
	fn := c.onSession
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if rpc.PublicMethods[method] {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	err := invoker(withAccessToken(ctx, c.Session().AccessToken), method, req, reply, cc, opts...)
	if !isTokenExpired(err) {
		return err
	}

	if rerr := c.refresh(ctx); rerr != nil {
		c.logger.Warn(ctx, "token refresh failed", "error", rerr)
		return err
	}
	return invoker(withAccessToken(ctx, c.Session().AccessToken), method, req, reply, cc, opts...)
}

func isTokenExpired(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	return st.Code() == codes.Unauthenticated && st.Message() == common.ErrTokenExpired.Error()
}

func (c *GRPCClient) refresh(ctx context.Context) error {
	current := c.Session()
	if current.RefreshToken == "" {
		return ErrNoSession
	}
	var next rpc.Session
	if err := rpc.Invoke(ctx, c.cc, rpc.MethodRefresh, rpc.RefreshRequest{RefreshToken: current.RefreshToken}, &next); err != nil {
		return err
	}
	if next.UserID == "" {
		next.UserID = current.UserID
	}
	c.storeSession(next)
	return nil
}

// SignIn exchanges a Google ID token for a session.
func (c *GRPCClient) SignIn(ctx context.Context, idToken string) (rpc.Session, error) {
	var s rpc.Session
	if err := rpc.Invoke(ctx, c.cc, rpc.MethodSignIn, rpc.SignInRequest{IDToken: idToken}, &s); err != nil {
		return rpc.Session{}, c.mapError(err)
	}
	c.storeSession(s)
	return s, nil
}

// SignOut forgets the session locally.
func (c *GRPCClient) SignOut() {
	c.storeSession(rpc.Session{})
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp rpc.PingResponse
	if err := rpc.Invoke(ctx, c.cc, rpc.MethodPing, struct{}{}, &resp); err != nil {
		return c.mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (c *GRPCClient) Select(ctx context.Context, table models.TableName, userID string) ([]json.RawMessage, error) {
	var resp rpc.SelectResponse
	err := rpc.Invoke(ctx, c.cc, rpc.MethodSelect, rpc.SelectRequest{Table: string(table), UserID: userID}, &resp)
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.Rows, nil
}

func (c *GRPCClient) Upsert(ctx context.Context, table models.TableName, rows []json.RawMessage) error {
	if len(rows) == 0 {
		return nil
	}
	var resp rpc.UpsertResponse
	err := rpc.Invoke(ctx, c.cc, rpc.MethodUpsert, rpc.UpsertRequest{Table: string(table), Rows: rows}, &resp)
	if err != nil {
		return c.mapError(err)
	}
	if len(resp.Failed) == 0 {
		return nil
	}
	be := &BatchError{Table: table, Rows: make(map[string]string, len(resp.Failed))}
	for _, f := range resp.Failed {
		be.Rows[f.ID] = f.Code + ": " + f.Message
	}
	return be
}

func (c *GRPCClient) SoftDelete(ctx context.Context, table models.TableName, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	var resp rpc.SoftDeleteResponse
	err := rpc.Invoke(ctx, c.cc, rpc.MethodSoftDelete, rpc.SoftDeleteRequest{Table: string(table), IDs: ids, At: at}, &resp)
	if err != nil {
		return c.mapError(err)
	}
	return nil
}

func (c *GRPCClient) DeleteByProfiles(ctx context.Context, table models.TableName, userID string, profileIDs []string) error {
	var resp rpc.DeleteByProfilesResponse
	req := rpc.DeleteByProfilesRequest{Table: string(table), UserID: userID, ProfileIDs: profileIDs}
	if err := rpc.Invoke(ctx, c.cc, rpc.MethodDeleteByProfiles, req, &resp); err != nil {
		return c.mapError(err)
	}
	return nil
}

// PresignSnapshot asks the server for an upload URL for a store snapshot.
func (c *GRPCClient) PresignSnapshot(ctx context.Context) (key, url string, err error) {
	var resp rpc.PresignResponse
	if err := rpc.Invoke(ctx, c.cc, rpc.MethodPresignSnapshot, struct{}{}, &resp); err != nil {
		return "", "", c.mapError(err)
	}
	return resp.Key, resp.URL, nil
}

func (c *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
