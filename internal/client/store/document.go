package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"github.com/google/uuid"
)

const (
	// SchemaVersion is the current document layout.
	SchemaVersion = 2
	// MaxSyncLog bounds the sync log; oldest entries are evicted first.
	MaxSyncLog = 200
)

// Op is the kind of outbox mutation.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Status is the delivery state of an outbox item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInflight Status = "inflight"
	StatusFailed   Status = "failed"
)

// OutboxItem is one pending mutation awaiting delivery to the remote.
type OutboxItem struct {
	ID          string           `json:"id"`
	Op          Op               `json:"op"`
	Table       models.TableName `json:"table"`
	Payload     json.RawMessage  `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
	Attempts    int              `json:"attempts"`
	Status      Status           `json:"status"`
	LastAttempt *time.Time       `json:"last_attempt"`
	Error       string           `json:"error,omitempty"`
}

// NewOutboxItem snapshots e into a pending item.
func NewOutboxItem(op Op, e models.Entity, now time.Time) (OutboxItem, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxItem{}, fmt.Errorf("marshal %s payload: %w", e.Table(), err)
	}
	return OutboxItem{
		ID:        uuid.NewString(),
		Op:        op,
		Table:     e.Table(),
		Payload:   payload,
		CreatedAt: now,
		Status:    StatusPending,
	}, nil
}

// Entity decodes the payload snapshot.
func (o OutboxItem) Entity() (models.Entity, error) {
	return models.DecodeEntity(o.Table, o.Payload)
}

// SyncLogEntry is one line of the per-identity sync log.
type SyncLogEntry struct {
	At      time.Time      `json:"at"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// Document is the persisted state of one identity.
type Document struct {
	Entities   models.Tables  `json:"entities"`
	Outbox     []OutboxItem   `json:"outbox"`
	LastSyncAt *time.Time     `json:"lastSyncAt"`
	Version    int            `json:"version"`
	Migrated   bool           `json:"migrated"`
	SyncLog    []SyncLogEntry `json:"syncLog"`
}

// NewDocument returns an empty document at the current schema version.
func NewDocument() *Document {
	d := &Document{Version: SchemaVersion}
	d.normalize()
	return d
}

func (d *Document) normalize() {
	d.Entities.Normalize()
	if d.Outbox == nil {
		d.Outbox = []OutboxItem{}
	}
	if d.SyncLog == nil {
		d.SyncLog = []SyncLogEntry{}
	}
}

// upgrade backfills sync metadata on every entity and reports whether the
// document changed. Running it on a current document changes nothing.
func (d *Document) upgrade(now time.Time) bool {
	changed := false
	for _, table := range models.AllTables {
		for _, e := range d.Entities.Entities(table) {
			if e.SyncMeta().FillDefaults(now) {
				changed = true
			}
		}
	}
	if d.Version < SchemaVersion {
		d.Version = SchemaVersion
		changed = true
	}
	return changed
}

// Enqueue appends an item to the outbox.
func (d *Document) Enqueue(item OutboxItem) {
	d.Outbox = append(d.Outbox, item)
}

// Log appends a sync log entry, keeping the newest MaxSyncLog.
func (d *Document) Log(entry SyncLogEntry) {
	d.SyncLog = append(d.SyncLog, entry)
	if over := len(d.SyncLog) - MaxSyncLog; over > 0 {
		d.SyncLog = append([]SyncLogEntry(nil), d.SyncLog[over:]...)
	}
}

// CountByStatus reports how many outbox items are in each status.
func (d *Document) CountByStatus() map[Status]int {
	out := map[Status]int{}
	for _, it := range d.Outbox {
		out[it.Status]++
	}
	return out
}

// RetryFailed moves failed items back to pending and returns how many moved.
// Attempts are left as they are.
func (d *Document) RetryFailed() int {
	n := 0
	for i := range d.Outbox {
		if d.Outbox[i].Status == StatusFailed {
			d.Outbox[i].Status = StatusPending
			n++
		}
	}
	return n
}

// DropSuperseded removes queued items whose payload is older than the row now
// held in the document, which happens after a strictly newer remote row was
// adopted. Inflight items are left to their running flush. It returns how
// many items were removed.
func (d *Document) DropSuperseded() int {
	kept := d.Outbox[:0]
	n := 0
	for _, it := range d.Outbox {
		if it.Status != StatusInflight && d.superseded(it) {
			n++
			continue
		}
		kept = append(kept, it)
	}
	d.Outbox = kept
	return n
}

func (d *Document) superseded(it OutboxItem) bool {
	queued, err := it.Entity()
	if err != nil {
		return false
	}
	current, ok := d.Entities.Find(it.Table, queued.SyncMeta().ID)
	if !ok {
		return false
	}
	return current.SyncMeta().UpdatedAt.After(queued.SyncMeta().UpdatedAt)
}
