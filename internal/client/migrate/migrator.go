// Package migrate moves a guest store into a newly signed-in account, once.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/remote"
	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/merge"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

// Snapshotter stores a copy of a document before it is migrated.
type Snapshotter interface {
	Upload(ctx context.Context, doc *store.Document) (string, error)
}

type Migrator struct {
	store  *store.Store
	remote remote.Remote
	logger logging.Logger

	// ConflictWindow treats a remote row at most this much older than the
	// guest row as the same state and keeps the remote one. Zero disables it.
	ConflictWindow time.Duration
	// BatchSize bounds the rows of one upsert call.
	BatchSize int
	// Snapshot, when set, receives the guest document before any upload.
	// Snapshot failures are logged and do not stop the migration.
	Snapshot Snapshotter
}

func New(s *store.Store, r remote.Remote, l logging.Logger) *Migrator {
	return &Migrator{
		store:     s,
		remote:    r,
		logger:    l.With("module", "migrate"),
		BatchSize: 100,
	}
}

// MigrateGuest merges the guest store into userID's account and marks the
// user store migrated. It returns the user store unchanged when there is
// nothing to migrate or the migration already ran. On failure the migrated
// flag stays unset and the guest store is left as is, so calling again
// replays the whole plan.
func (m *Migrator) MigrateGuest(ctx context.Context, userID string) (*store.Document, error) {
	if userID == "" {
		return nil, remote.ErrNoSession
	}
	user := store.User(userID)

	guest := m.store.Load(ctx, store.Guest())
	current := m.store.Load(ctx, user)
	if current.Migrated || guest.Entities.IsEmpty() {
		m.logger.Debug(ctx, "nothing to migrate", "user", userID, "migrated", current.Migrated)
		return current, nil
	}

	fetched, err := remote.FetchAll(ctx, m.remote, userID)
	if err != nil {
		return nil, m.fail(ctx, user, fmt.Errorf("fetch remote state: %w", err))
	}

	plan := BuildPlan(guest.Entities, fetched, userID, m.ConflictWindow)
	m.logger.Info(ctx, "migration planned", "user", userID,
		"local_only", len(plan.LocalOnly), "merged", len(plan.Merged), "remote_only", len(plan.RemoteOnly))

	if m.Snapshot != nil {
		if key, err := m.Snapshot.Upload(ctx, guest); err != nil {
			m.logger.Warn(ctx, "guest snapshot failed", "error", err)
		} else {
			m.logger.Info(ctx, "guest snapshot stored", "key", key)
		}
	}

	if err := m.upload(ctx, plan); err != nil {
		return nil, m.fail(ctx, user, err)
	}

	planned, err := plan.Tables()
	if err != nil {
		return nil, m.fail(ctx, user, err)
	}

	doc, err := m.store.Update(ctx, user, func(doc *store.Document) error {
		doc.Entities = merge.Tables(doc.Entities, planned)
		doc.Migrated = true
		doc.Log(store.SyncLogEntry{
			At: m.store.Now(), Level: store.LogInfo, Message: "guest data migrated",
			Details: map[string]any{
				"local_only":  len(plan.LocalOnly),
				"merged":      len(plan.Merged),
				"remote_only": len(plan.RemoteOnly),
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist migrated store: %w", err)
	}
	return doc, nil
}

func (m *Migrator) upload(ctx context.Context, plan Plan) error {
	uploads := plan.Uploads()
	size := m.BatchSize
	if size <= 0 {
		size = 100
	}

	for _, table := range models.AllTables {
		rows := uploads[table]
		for start := 0; start < len(rows); start += size {
			end := min(start+size, len(rows))
			payload := make([]json.RawMessage, 0, end-start)
			for _, e := range rows[start:end] {
				b, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("marshal %s row: %w", table, err)
				}
				payload = append(payload, b)
			}
			if err := m.remote.Upsert(ctx, table, payload); err != nil {
				return fmt.Errorf("upload %s: %w", table, err)
			}
		}
	}
	return nil
}

func (m *Migrator) fail(ctx context.Context, user store.Identity, err error) error {
	m.logger.Error(ctx, "migration failed", "user", user.UserID, "error", err)
	_ = m.store.AppendSyncLog(ctx, user, store.SyncLogEntry{
		Level: store.LogError, Message: "guest migration failed",
		Details: map[string]any{"error": err.Error()},
	})
	return err
}
