package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/attendkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/rows"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestManagerImplementsInterface(t *testing.T) {
	var _ RepositoryManager = NewPostgresRepositoryManager()
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	assert.IsType(t, &users.PostgresRepository{}, m.Users(db))
	assert.IsType(t, &refreshtokens.PostgresRepository{}, m.RefreshTokens(db))
	assert.IsType(t, &rows.PostgresRepository{}, m.Rows(db))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := fs.Glob(migrations.Migrations, "*.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}

func TestRunMigrations_Success(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, NewPostgresRepositoryManager().RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestRunMigrations_Error(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	boom := errors.New("boom")
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return boom
	}

	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
	require.ErrorIs(t, err, boom)
}
