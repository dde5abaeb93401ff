// Package remote is the client side of the row store: the table-oriented
// contract the sync and migration engines depend on, and its gRPC
// implementation.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

var (
	ErrUnavailable  = errors.New("remote unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoSession    = errors.New("not signed in")
)

// Remote is a per-table row store keyed by id and scoped by user id.
type Remote interface {
	// Select returns every row of the table owned by userID, tombstones
	// included.
	Select(ctx context.Context, table models.TableName, userID string) ([]json.RawMessage, error)
	// Upsert writes rows keyed by id. Rejected rows are reported through a
	// *BatchError; the other rows are written.
	Upsert(ctx context.Context, table models.TableName, rows []json.RawMessage) error
	// SoftDelete marks rows deleted with the given timestamp. Rows are never
	// removed.
	SoftDelete(ctx context.Context, table models.TableName, ids []string, at time.Time) error
	// DeleteByProfiles physically removes the rows of the given profiles.
	DeleteByProfiles(ctx context.Context, table models.TableName, userID string, profileIDs []string) error
}

// BatchError attributes failures to individual row ids.
type BatchError struct {
	Table models.TableName
	Rows  map[string]string
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Rows))
	for id := range e.Rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, e.Rows[id]))
	}
	return fmt.Sprintf("%s: %d rows rejected (%s)", e.Table, len(ids), strings.Join(parts, "; "))
}

// Failed returns the reason a row was rejected.
func (e *BatchError) Failed(id string) (string, bool) {
	msg, ok := e.Rows[id]
	return msg, ok
}
