package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/dbx"
	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the user. A concurrent sign-in that already created the
// same Google subject wins; its row is returned instead.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (google_sub, email)
         VALUES ($1, $2)
		 ON CONFLICT (google_sub) DO UPDATE SET email = users.email
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query, user.GoogleSub, user.Email).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) FindByGoogleSub(ctx context.Context, sub string) (*models.User, error) {
	query :=
		`SELECT id, google_sub, email, created_at FROM users
		 WHERE google_sub = $1
		 `
	return r.findOne(ctx, query, sub)
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, google_sub, email, created_at FROM users
		 WHERE id = $1
		 `
	return r.findOne(ctx, query, id)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.GoogleSub, &user.Email, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

// UpdateEmail keeps the stored address in step with the latest ID token.
func (r *PostgresRepository) UpdateEmail(ctx context.Context, id, email string) error {
	query :=
		`UPDATE users SET email = $2
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id, email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
