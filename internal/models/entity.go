// Package models defines the synchronized entity model shared by the client
// store and the row store server.
//
// Every record embeds Meta (id, owner, timestamps, tombstone, version,
// client id, metadata bag) and declares the table it belongs to, so callers
// never have to guess a table from the shape of a record.
package models

import (
	"fmt"
	"maps"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/google/uuid"
)

// TableName identifies one entity table.
type TableName string

const (
	TableProfiles                TableName = "profiles"
	TableStudents                TableName = "students"
	TableGroups                  TableName = "groups"
	TableAttendanceRecords       TableName = "attendance_records"
	TableMakeupSessions          TableName = "makeup_sessions"
	TableCompletedMakeupSessions TableName = "completed_makeup_sessions"
	TableArchivedTerms           TableName = "archived_terms"
)

// AllTables lists every table in parent-first order. Uploads walk this order
// so a profile reaches the remote before the rows that point at it.
var AllTables = []TableName{
	TableProfiles,
	TableStudents,
	TableGroups,
	TableAttendanceRecords,
	TableMakeupSessions,
	TableCompletedMakeupSessions,
	TableArchivedTerms,
}

// ParseTable validates a table name received from storage or the wire.
func ParseTable(s string) (TableName, error) {
	for _, t := range AllTables {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnknownTable, s)
}

// Meta is the sync metadata carried by every entity.
type Meta struct {
	// ID is assigned at creation and never reassigned.
	ID string `json:"id"`
	// UserID is the owner; nil for guest-mode entities.
	UserID *string `json:"user_id"`
	// UpdatedAt is the only conflict-resolution signal.
	UpdatedAt time.Time `json:"updated_at"`
	// Deleted marks a tombstone.
	Deleted bool `json:"deleted"`
	// ClientID identifies the originating local write.
	ClientID string `json:"client_id"`
	// Version is bumped on every local mutation.
	Version int64 `json:"version"`
	// Metadata is an open bag merged additively.
	Metadata map[string]any `json:"metadata"`
}

// SyncMeta gives generic code access to the embedded metadata.
func (m *Meta) SyncMeta() *Meta { return m }

// Entity is implemented by pointers to every domain record.
type Entity interface {
	Table() TableName
	SyncMeta() *Meta
}

// ProfileScoped is implemented by records that belong to a coach profile.
type ProfileScoped interface {
	Entity
	OwnerProfileID() string
}

// NewID returns a fresh entity identifier.
func NewID() string { return uuid.NewString() }

// FillDefaults backfills missing sync metadata and reports whether anything
// changed. Existing values are never overwritten, so repeated calls are safe.
func (m *Meta) FillDefaults(now time.Time) bool {
	changed := false
	if m.ID == "" {
		m.ID = NewID()
		changed = true
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
		changed = true
	}
	if m.ClientID == "" {
		m.ClientID = uuid.NewString()
		changed = true
	}
	if m.Version < 1 {
		m.Version = 1
		changed = true
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
		changed = true
	}
	return changed
}

// Touch records a local mutation: fresh timestamp, fresh client id and a
// version one above prev.
func (m *Meta) Touch(now time.Time, prev int64) {
	m.UpdatedAt = now
	m.ClientID = uuid.NewString()
	if m.Version <= prev {
		m.Version = prev
	}
	m.Version++
}

// SetOwner stamps the owner id; an empty id clears it.
func (m *Meta) SetOwner(userID string) {
	if userID == "" {
		m.UserID = nil
		return
	}
	id := userID
	m.UserID = &id
}

// Owner returns the owner id or "" for guest rows.
func (m *Meta) Owner() string {
	if m.UserID == nil {
		return ""
	}
	return *m.UserID
}

// UnionMetadata returns a new map holding every key of local and remote,
// remote winning on collisions.
func UnionMetadata(local, remote map[string]any) map[string]any {
	out := make(map[string]any, len(local)+len(remote))
	maps.Copy(out, local)
	maps.Copy(out, remote)
	return out
}
