package rows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/dbx"
	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
)

// profilesTable is keyed by its own id rather than profile_id.
const profilesTable = "profiles"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// placeholders renders "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(p, ", ")
}

func stringArgs(head []any, values []string) []any {
	args := make([]any, 0, len(head)+len(values))
	args = append(args, head...)
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func (r *PostgresRepository) Select(ctx context.Context, userID, table string) ([]json.RawMessage, error) {
	query := `
		SELECT data FROM rows
		WHERE table_name = $1 AND user_id = $2
		ORDER BY updated_at, id
	`
	rs, err := r.db.QueryContext(ctx, query, table, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rs.Close()

	out := []json.RawMessage{}
	for rs.Next() {
		var data []byte
		if err := rs.Scan(&data); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, json.RawMessage(data))
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, row *models.Row) error {
	query := `
		INSERT INTO rows (table_name, id, user_id, data, updated_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at, deleted = EXCLUDED.deleted
		WHERE rows.user_id = EXCLUDED.user_id AND rows.updated_at <= EXCLUDED.updated_at
	`
	res, err := r.db.ExecContext(ctx, query,
		row.Table, row.ID, row.UserID, []byte(row.Data), row.UpdatedAt, row.Deleted)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.skipReason(ctx, row)
}

// skipReason tells why an upsert left the stored row alone.
func (r *PostgresRepository) skipReason(ctx context.Context, row *models.Row) error {
	query := `SELECT user_id FROM rows WHERE table_name = $1 AND id = $2`
	var owner string
	err := r.db.QueryRowContext(ctx, query, row.Table, row.ID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return common.ErrOwnershipConflict
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case owner == row.UserID:
		return common.ErrStaleWrite
	default:
		return common.ErrOwnershipConflict
	}
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, userID, table string, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
		UPDATE rows
		SET deleted = TRUE, updated_at = $3,
		    data = data || jsonb_build_object('deleted', TRUE, 'updated_at', $4::text)
		WHERE table_name = $1 AND user_id = $2 AND updated_at <= $3 AND id IN (%s)
	`, placeholders(5, len(ids)))

	at = at.UTC()
	args := stringArgs([]any{table, userID, at, at.Format(time.RFC3339Nano)}, ids)
	return r.exec(ctx, query, args)
}

func (r *PostgresRepository) DeleteByProfiles(ctx context.Context, userID, table string, profileIDs []string) (int64, error) {
	if len(profileIDs) == 0 {
		return 0, nil
	}
	key := "data->>'profile_id'"
	if table == profilesTable {
		key = "id"
	}
	query := fmt.Sprintf(`
		DELETE FROM rows
		WHERE table_name = $1 AND user_id = $2 AND %s IN (%s)
	`, key, placeholders(3, len(profileIDs)))

	return r.exec(ctx, query, stringArgs([]any{table, userID}, profileIDs))
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
