package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/dbx"
	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/attendkeeper/internal/server/repositories/refreshtokens"
	rowsrepo "github.com/dmitrijs2005/attendkeeper/internal/server/repositories/rows"
	usersrepo "github.com/dmitrijs2005/attendkeeper/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

type fakeUsersRepo struct {
	mu      sync.Mutex
	bySub   map[string]*models.User
	findErr error
	created int
	emails  map[string]string
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{bySub: map[string]*models.User{}, emails: map[string]string{}}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	u.ID = "u-" + u.GoogleSub
	u.CreatedAt = t0
	cp := *u
	f.bySub[u.GoogleSub] = &cp
	return u, nil
}

func (f *fakeUsersRepo) FindByGoogleSub(ctx context.Context, sub string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	u, ok := f.bySub[sub]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.bySub {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) UpdateEmail(ctx context.Context, id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails[id] = email
	for _, u := range f.bySub {
		if u.ID == id {
			u.Email = email
		}
	}
	return nil
}

type fakeRefreshRepo struct {
	mu        sync.Mutex
	tokens    map[string]*models.RefreshToken
	createErr error
	deleted   []string
	purged    int
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: expiresAt}
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rt
	return &cp, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, token)
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context, userID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	var n int64
	for k, rt := range f.tokens {
		if rt.UserID == userID && rt.Expires.Before(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

// fakeRowsRepo keeps rows by table/id and enforces ownership like the
// Postgres upsert does.
type fakeRowsRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Row
	upsertErr map[string]error
	calls     []string
}

func newFakeRowsRepo() *fakeRowsRepo {
	return &fakeRowsRepo{rows: map[string]*models.Row{}, upsertErr: map[string]error{}}
}

func (f *fakeRowsRepo) Select(ctx context.Context, userID, table string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Select")
	out := []json.RawMessage{}
	for _, r := range f.rows {
		if r.Table == table && r.UserID == userID {
			out = append(out, r.Data)
		}
	}
	return out, nil
}

func (f *fakeRowsRepo) Upsert(ctx context.Context, row *models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Upsert")
	if err := f.upsertErr[row.ID]; err != nil {
		return err
	}
	key := row.Table + "/" + row.ID
	if existing, ok := f.rows[key]; ok {
		if existing.UserID != row.UserID {
			return common.ErrOwnershipConflict
		}
		if existing.UpdatedAt.After(row.UpdatedAt) {
			return common.ErrStaleWrite
		}
	}
	cp := *row
	f.rows[key] = &cp
	return nil
}

func (f *fakeRowsRepo) SoftDelete(ctx context.Context, userID, table string, ids []string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "SoftDelete")
	var n int64
	for _, id := range ids {
		if r, ok := f.rows[table+"/"+id]; ok && r.UserID == userID && !r.UpdatedAt.After(at) {
			r.Deleted = true
			r.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (f *fakeRowsRepo) DeleteByProfiles(ctx context.Context, userID, table string, profileIDs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "DeleteByProfiles")
	return int64(len(profileIDs)), nil
}

type fakeRepoManager struct {
	users   *fakeUsersRepo
	refresh *fakeRefreshRepo
	rows    *fakeRowsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{users: newFakeUsersRepo(), refresh: newFakeRefreshRepo(), rows: newFakeRowsRepo()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.users }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.refresh }
func (m *fakeRepoManager) Rows(db dbx.DBTX) rowsrepo.Repository                   { return m.rows }
