// Package rows persists synchronized entities as JSON documents keyed by
// table and id. Every statement is scoped by the owning user.
package rows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/server/models"
)

type Repository interface {
	// Select returns the data of every row the user owns in table,
	// tombstones included.
	Select(ctx context.Context, userID, table string) ([]json.RawMessage, error)

	// Upsert inserts or replaces one row. A row with the same key owned by
	// another user is left untouched and common.ErrOwnershipConflict is
	// returned. A stored row with a later updated_at is kept and
	// common.ErrStaleWrite is returned.
	Upsert(ctx context.Context, row *models.Row) error

	// SoftDelete marks the user's rows deleted at the given time. Rows updated
	// after at are left alone.
	SoftDelete(ctx context.Context, userID, table string, ids []string, at time.Time) (int64, error)

	// DeleteByProfiles physically removes the user's rows that belong to the
	// given profiles. For the profiles table the ids are the rows themselves.
	DeleteByProfiles(ctx context.Context, userID, table string, profileIDs []string) (int64, error)
}
