// Package remotetest provides an in-memory remote.Remote for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/remote"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

// Call records one remote invocation.
type Call struct {
	Method string
	Table  models.TableName
	IDs    []string
}

// Remote keeps rows per table keyed by id and scopes Select by the user_id
// field of each row.
type Remote struct {
	mu   sync.Mutex
	rows map[models.TableName]map[string]json.RawMessage

	Calls []Call

	SelectErr     error
	UpsertErr     error
	SoftDeleteErr error
	// Reject lists row ids Upsert refuses, with the reason reported.
	Reject map[string]string
	// Gate, when set, blocks Upsert until it is closed. Entered is closed
	// once the first Upsert is waiting.
	Gate    chan struct{}
	Entered chan struct{}
	entered sync.Once
}

var _ remote.Remote = (*Remote)(nil)

func New() *Remote {
	return &Remote{rows: map[models.TableName]map[string]json.RawMessage{}}
}

// Seed stores entities as if another device had written them.
func (r *Remote) Seed(entities ...models.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		b, err := json.Marshal(e)
		if err != nil {
			panic(err)
		}
		r.put(e.Table(), e.SyncMeta().ID, b)
	}
}

func (r *Remote) put(table models.TableName, id string, row json.RawMessage) {
	if r.rows[table] == nil {
		r.rows[table] = map[string]json.RawMessage{}
	}
	r.rows[table][id] = row
}

// newer reports whether the stored row was updated after at. Such writes are
// ignored, as the server does.
func (r *Remote) newer(table models.TableName, id string, at time.Time) bool {
	raw, ok := r.rows[table][id]
	return ok && updatedAt(raw).After(at)
}

func updatedAt(raw json.RawMessage) time.Time {
	var head struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.UpdatedAt
}

// Row decodes a stored row.
func (r *Remote) Row(table models.TableName, id string) (models.Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.rows[table][id]
	if !ok {
		return nil, false
	}
	e, err := models.DecodeEntity(table, raw)
	if err != nil {
		panic(err)
	}
	return e, true
}

// Count returns the number of stored rows of a table.
func (r *Remote) Count(table models.TableName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[table])
}

// Writes counts mutating calls.
func (r *Remote) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if c.Method != "Select" {
			n++
		}
	}
	return n
}

// CallsOf returns the recorded calls of one method.
func (r *Remote) CallsOf(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *Remote) record(method string, table models.TableName, ids []string) {
	r.Calls = append(r.Calls, Call{Method: method, Table: table, IDs: ids})
}

func (r *Remote) Select(ctx context.Context, table models.TableName, userID string) ([]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("Select", table, nil)
	if r.SelectErr != nil {
		return nil, r.SelectErr
	}

	ids := make([]string, 0, len(r.rows[table]))
	for id := range r.rows[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []json.RawMessage
	for _, id := range ids {
		raw := r.rows[table][id]
		var owner struct {
			UserID *string `json:"user_id"`
		}
		if err := json.Unmarshal(raw, &owner); err != nil {
			return nil, err
		}
		if owner.UserID != nil && *owner.UserID == userID {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (r *Remote) Upsert(ctx context.Context, table models.TableName, rows []json.RawMessage) error {
	if r.Gate != nil {
		r.entered.Do(func() { close(r.Entered) })
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(rows))
	for _, raw := range rows {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return err
		}
		ids = append(ids, head.ID)
	}
	r.record("Upsert", table, ids)
	if r.UpsertErr != nil {
		return r.UpsertErr
	}

	be := &remote.BatchError{Table: table, Rows: map[string]string{}}
	for i, raw := range rows {
		if reason, ok := r.Reject[ids[i]]; ok {
			be.Rows[ids[i]] = reason
			continue
		}
		if r.newer(table, ids[i], updatedAt(raw)) {
			continue
		}
		r.put(table, ids[i], append(json.RawMessage(nil), raw...))
	}
	if len(be.Rows) > 0 {
		return be
	}
	return nil
}

func (r *Remote) SoftDelete(ctx context.Context, table models.TableName, ids []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("SoftDelete", table, ids)
	if r.SoftDeleteErr != nil {
		return r.SoftDeleteErr
	}
	for _, id := range ids {
		raw, ok := r.rows[table][id]
		if !ok || r.newer(table, id, at) {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		m["deleted"] = true
		m["updated_at"] = at.UTC().Format(time.RFC3339Nano)
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		r.rows[table][id] = b
	}
	return nil
}

func (r *Remote) DeleteByProfiles(ctx context.Context, table models.TableName, userID string, profileIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("DeleteByProfiles", table, profileIDs)

	wanted := map[string]bool{}
	for _, p := range profileIDs {
		wanted[p] = true
	}
	for id, raw := range r.rows[table] {
		var head struct {
			ProfileID string `json:"profile_id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("decode %s row %s: %w", table, id, err)
		}
		if table == models.TableProfiles {
			head.ProfileID = id
		}
		if wanted[head.ProfileID] {
			delete(r.rows[table], id)
		}
	}
	return nil
}
