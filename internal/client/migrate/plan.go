package migrate

import (
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/merge"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"github.com/google/uuid"
)

// Item is one planned row, tagged with its table.
type Item struct {
	Table  models.TableName
	Entity models.Entity
}

// Plan classifies every guest row against the user's remote rows.
type Plan struct {
	// LocalOnly rows exist only in the guest store and are created remotely.
	LocalOnly []Item
	// Merged rows exist on both sides and were resolved by timestamp.
	Merged []Item
	// RemoteOnly rows already belong to the user and are not uploaded.
	RemoteOnly []Item
}

// Uploads returns the rows to write remotely, in table order.
func (p Plan) Uploads() map[models.TableName][]models.Entity {
	out := map[models.TableName][]models.Entity{}
	for _, it := range p.LocalOnly {
		out[it.Table] = append(out[it.Table], it.Entity)
	}
	for _, it := range p.Merged {
		out[it.Table] = append(out[it.Table], it.Entity)
	}
	return out
}

// Tables assembles every planned row into tables.
func (p Plan) Tables() (models.Tables, error) {
	var t models.Tables
	for _, group := range [][]Item{p.LocalOnly, p.Merged, p.RemoteOnly} {
		for _, it := range group {
			if err := t.Upsert(it.Entity); err != nil {
				return models.Tables{}, err
			}
		}
	}
	t.Normalize()
	return t, nil
}

// BuildPlan compares guest rows with remote rows table by table. Guest rows
// are re-stamped with userID and a fresh client id whether or not they win.
func BuildPlan(guest, remote models.Tables, userID string, window time.Duration) Plan {
	var p Plan
	planTable(&p, guest.Profiles, remote.Profiles, userID, window)
	planTable(&p, guest.Students, remote.Students, userID, window)
	planTable(&p, guest.Groups, remote.Groups, userID, window)
	planTable(&p, guest.AttendanceRecords, remote.AttendanceRecords, userID, window)
	planTable(&p, guest.MakeupSessions, remote.MakeupSessions, userID, window)
	planTable(&p, guest.CompletedMakeupSessions, remote.CompletedMakeupSessions, userID, window)
	planTable(&p, guest.ArchivedTerms, remote.ArchivedTerms, userID, window)
	return p
}

func planTable[T any, P models.Ptr[T]](p *Plan, guest, remote []T, userID string, window time.Duration) {
	remoteByID := make(map[string]T, len(remote))
	for _, r := range remote {
		remoteByID[P(&r).SyncMeta().ID] = r
	}

	matched := make(map[string]bool, len(guest))
	for _, g := range guest {
		id := P(&g).SyncMeta().ID
		out := g
		bucket := &p.LocalOnly
		if r, ok := remoteByID[id]; ok {
			out = merge.ResolveWithin[T, P](g, r, window)
			bucket = &p.Merged
			matched[id] = true
		}

		e := P(&out)
		e.SyncMeta().SetOwner(userID)
		e.SyncMeta().ClientID = uuid.NewString()
		*bucket = append(*bucket, Item{Table: e.Table(), Entity: e})
	}

	for _, r := range remote {
		if matched[P(&r).SyncMeta().ID] {
			continue
		}
		row := r
		e := P(&row)
		p.RemoteOnly = append(p.RemoteOnly, Item{Table: e.Table(), Entity: e})
	}
}
