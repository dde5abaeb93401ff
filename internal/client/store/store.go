// Package store is the durable local store: one JSON document per identity
// holding entity tables, the outbox and the sync log.
//
// Store is the only writer of the documents it owns. Every mutating method
// runs a load-modify-save cycle under one mutex, so callers in the same
// process never lose each other's writes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/storage"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

type Store struct {
	kv  storage.KV
	log logging.Logger
	now func() time.Time
	mu  sync.Mutex
}

type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(kv storage.KV, log logging.Logger, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		log: log.With("module", "store"),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now exposes the store clock so collaborators stamp consistent times.
func (s *Store) Now() time.Time { return s.now() }

// Load returns the identity's document. Missing or unreadable data yields an
// empty document; an outdated layout is upgraded and written back.
func (s *Store) Load(ctx context.Context, id Identity) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, id)
}

func (s *Store) load(ctx context.Context, id Identity) *Document {
	raw, err := s.kv.Get(ctx, id.Key())
	if err != nil {
		s.log.Warn(ctx, "read document failed, using empty store", "identity", id.String(), "error", err)
		return NewDocument()
	}
	if len(raw) == 0 {
		return NewDocument()
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn(ctx, "corrupt document, using empty store", "identity", id.String(), "error", err)
		return NewDocument()
	}
	doc.normalize()

	if doc.upgrade(s.now()) {
		s.log.Info(ctx, "document upgraded", "identity", id.String(), "version", doc.Version)
		if err := s.save(ctx, &doc, id); err != nil {
			s.log.Warn(ctx, "persist upgraded document failed", "identity", id.String(), "error", err)
		}
	}
	return &doc
}

// Save overwrites the identity's document.
func (s *Store) Save(ctx context.Context, doc *Document, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, doc, id)
}

func (s *Store) save(ctx context.Context, doc *Document, id Identity) error {
	doc.normalize()
	if doc.Version == 0 {
		doc.Version = SchemaVersion
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := s.kv.Set(ctx, id.Key(), raw); err != nil {
		return fmt.Errorf("save %s document: %w", id, err)
	}
	return nil
}

// Update runs fn on the current document and saves the result. Nothing is
// written when fn fails.
func (s *Store) Update(ctx context.Context, id Identity, fn func(doc *Document) error) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load(ctx, id)
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.save(ctx, doc, id); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpsertEntity stamps e as a fresh local write, replaces or appends it in its
// table and, for an authenticated identity, enqueues an upsert. e is updated
// in place with the stamped metadata.
func (s *Store) UpsertEntity(ctx context.Context, id Identity, e models.Entity) error {
	_, err := s.Update(ctx, id, func(doc *Document) error {
		now := s.now()
		m := e.SyncMeta()
		m.FillDefaults(now)

		prev := int64(0)
		if existing, ok := doc.Entities.Find(e.Table(), m.ID); ok {
			prev = existing.SyncMeta().Version
		}
		m.Touch(now, prev)
		if !id.IsGuest() {
			m.SetOwner(id.UserID)
		}

		if err := models.Validate(e); err != nil {
			return err
		}
		if err := doc.Entities.Upsert(e); err != nil {
			return err
		}
		return s.enqueue(doc, id, OpUpsert, e, now)
	})
	return err
}

// DeleteEntity tombstones the row in place. A missing id is not an error.
func (s *Store) DeleteEntity(ctx context.Context, id Identity, table models.TableName, entityID string) error {
	_, err := s.Update(ctx, id, func(doc *Document) error {
		e, ok := doc.Entities.Find(table, entityID)
		if !ok {
			return nil
		}
		now := s.now()
		m := e.SyncMeta()
		m.Deleted = true
		m.Touch(now, m.Version)
		return s.enqueue(doc, id, OpDelete, e, now)
	})
	return err
}

func (s *Store) enqueue(doc *Document, id Identity, op Op, e models.Entity, now time.Time) error {
	if id.IsGuest() {
		return nil
	}
	item, err := NewOutboxItem(op, e, now)
	if err != nil {
		return err
	}
	doc.Enqueue(item)
	return nil
}

// AppendSyncLog records a timestamped entry.
func (s *Store) AppendSyncLog(ctx context.Context, id Identity, entry SyncLogEntry) error {
	_, err := s.Update(ctx, id, func(doc *Document) error {
		if entry.At.IsZero() {
			entry.At = s.now()
		}
		doc.Log(entry)
		return nil
	})
	return err
}

// RetryFailedItems re-queues every failed outbox item. Attempt counters are
// kept, so an item that already reached the engine's MaxAttempts gets exactly
// one more try before it is failed again. The re-queue is recorded in the
// sync log.
func (s *Store) RetryFailedItems(ctx context.Context, id Identity) (int, error) {
	n := 0
	_, err := s.Update(ctx, id, func(doc *Document) error {
		n = doc.RetryFailed()
		if n > 0 {
			doc.Log(SyncLogEntry{
				At: s.now(), Level: LogInfo, Message: "failed items re-queued",
				Details: map[string]any{"items": n, "attempts_kept": true},
			})
		}
		return nil
	})
	return n, err
}

// List returns the live rows of one table.
func (s *Store) List(ctx context.Context, id Identity, table models.TableName) []models.Entity {
	doc := s.Load(ctx, id)
	var out []models.Entity
	for _, e := range doc.Entities.Entities(table) {
		if !e.SyncMeta().Deleted {
			out = append(out, e)
		}
	}
	return out
}
