package grpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
	"github.com/dmitrijs2005/attendkeeper/internal/server/auth"
	smodels "github.com/dmitrijs2005/attendkeeper/internal/server/models"
	"github.com/dmitrijs2005/attendkeeper/internal/server/services"
)

const testSecret = "secret"

func token(userID string, validity time.Duration) string {
	tok, err := auth.GenerateToken(userID, []byte(testSecret), validity)
	if err != nil {
		panic(err)
	}
	return tok
}

// fakeAuth signs in a single user. The first access token it issues can be
// made already expired to exercise the refresh path.
type fakeAuth struct {
	mu           sync.Mutex
	user         smodels.User
	signInErr    error
	refreshErr   error
	firstExpired bool
	refreshes    int
}

func (f *fakeAuth) SignInWithGoogle(ctx context.Context, idToken string) (*smodels.User, *services.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, nil, f.signInErr
	}
	validity := time.Hour
	if f.firstExpired {
		validity = -time.Minute
	}
	u := f.user
	return &u, &services.TokenPair{AccessToken: token(u.ID, validity), RefreshToken: "refresh-1"}, nil
}

func (f *fakeAuth) RefreshToken(ctx context.Context, refreshToken string) (*smodels.User, *services.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, nil, f.refreshErr
	}
	if refreshToken != "refresh-1" {
		return nil, nil, common.ErrorUnauthorized
	}
	f.refreshes++
	u := f.user
	return &u, &services.TokenPair{AccessToken: token(u.ID, time.Hour), RefreshToken: "refresh-1"}, nil
}

// fakeRows stores rows per user and table.
type fakeRows struct {
	mu      sync.Mutex
	data    map[string][]json.RawMessage
	failed  []rpc.RowFailure
	err     error
	deletes []string
}

func newFakeRows() *fakeRows { return &fakeRows{data: map[string][]json.RawMessage{}} }

func (f *fakeRows) Select(ctx context.Context, userID, table string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := models.ParseTable(table); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]json.RawMessage{}, f.data[userID+"/"+table]...), nil
}

func (f *fakeRows) Upsert(ctx context.Context, userID, table string, rows []json.RawMessage) (int, []rpc.RowFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, nil, f.err
	}
	f.data[userID+"/"+table] = append(f.data[userID+"/"+table], rows...)
	return len(rows) - len(f.failed), f.failed, nil
}

func (f *fakeRows) SoftDelete(ctx context.Context, userID, table string, ids []string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, userID+"/"+table)
	return int64(len(ids)), f.err
}

func (f *fakeRows) DeleteByProfiles(ctx context.Context, userID, table string, profileIDs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, userID+"/"+table)
	return int64(len(profileIDs)), f.err
}

type fakeSnapshots struct {
	userID string
	err    error
}

func (f *fakeSnapshots) PresignPut(ctx context.Context, userID string) (string, string, error) {
	f.userID = userID
	if f.err != nil {
		return "", "", f.err
	}
	return "snapshots/" + userID + "/k.json", "https://s3.local/put", nil
}
