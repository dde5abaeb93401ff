// Package cloudsync offers a profile-shaped view over the local store for
// callers that think in whole coaching profiles rather than rows.
//
// Saves never replace remote data wholesale: the facade diffs the view
// against the local document, writes changed rows through the store (which
// queues them in the outbox) and tombstones rows that vanished from a saved
// profile. Delivery is left to the sync engine.
package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

// ProfileView is a profile with all of its live child rows.
type ProfileView struct {
	Profile                 models.Profile
	Students                []models.Student
	Groups                  []models.Group
	AttendanceRecords       []models.AttendanceRecord
	MakeupSessions          []models.MakeupSession
	CompletedMakeupSessions []models.CompletedMakeupSession
	ArchivedTerms           []models.ArchivedTerm
}

// Facade loads and saves profile views for one store and sync engine.
type Facade struct {
	store  *store.Store
	engine *syncer.Engine
	logger logging.Logger
}

func New(s *store.Store, e *syncer.Engine, l logging.Logger) *Facade {
	return &Facade{store: s, engine: e, logger: l.With("module", "cloudsync")}
}

// scoped is the constraint for child records addressed by profile.
type scoped[T any] interface {
	*T
	models.ProfileScoped
}

func groupByProfile[T any, P scoped[T]](rows []T) map[string][]T {
	out := map[string][]T{}
	for i := range rows {
		p := P(&rows[i])
		if p.SyncMeta().Deleted {
			continue
		}
		out[p.OwnerProfileID()] = append(out[p.OwnerProfileID()], rows[i])
	}
	return out
}

// Views reshapes live rows into one view per live profile. Orphan rows whose
// profile is missing or deleted are left out.
func Views(t models.Tables) []ProfileView {
	students := groupByProfile(t.Students)
	groups := groupByProfile(t.Groups)
	records := groupByProfile(t.AttendanceRecords)
	makeups := groupByProfile(t.MakeupSessions)
	completed := groupByProfile(t.CompletedMakeupSessions)
	archived := groupByProfile(t.ArchivedTerms)

	views := []ProfileView{}
	for _, p := range models.Live(t.Profiles) {
		views = append(views, ProfileView{
			Profile:                 p,
			Students:                students[p.ID],
			Groups:                  groups[p.ID],
			AttendanceRecords:       records[p.ID],
			MakeupSessions:          makeups[p.ID],
			CompletedMakeupSessions: completed[p.ID],
			ArchivedTerms:           archived[p.ID],
		})
	}
	return views
}

func identity(userID string) store.Identity {
	if userID == "" {
		return store.Guest()
	}
	return store.User(userID)
}

// LoadProfiles pulls the user's tables from the cloud, reconciles them into
// the local document and returns the resulting views. A guest gets the local
// views only.
func (f *Facade) LoadProfiles(ctx context.Context, userID string) ([]ProfileView, error) {
	id := identity(userID)
	if id.IsGuest() {
		return Views(f.store.Load(ctx, id).Entities), nil
	}
	doc, err := f.engine.LoadFromCloud(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return Views(doc.Entities), nil
}

// LocalProfiles returns the views held by the local document.
func (f *Facade) LocalProfiles(ctx context.Context, userID string) []ProfileView {
	return Views(f.store.Load(ctx, identity(userID)).Entities)
}

type settable interface {
	models.Entity
	SetProfileID(id string)
}

// rows flattens a view into entities, assigning ids to new records and
// pointing every child at the profile.
func (v *ProfileView) rows() []models.Entity {
	if v.Profile.ID == "" {
		v.Profile.ID = models.NewID()
	}
	out := []models.Entity{&v.Profile}
	add := func(e settable) {
		if e.SyncMeta().ID == "" {
			e.SyncMeta().ID = models.NewID()
		}
		e.SetProfileID(v.Profile.ID)
		e.SyncMeta().Deleted = false
		out = append(out, e)
	}
	for i := range v.Students {
		add(&v.Students[i])
	}
	for i := range v.Groups {
		add(&v.Groups[i])
	}
	for i := range v.AttendanceRecords {
		add(&v.AttendanceRecords[i])
	}
	for i := range v.MakeupSessions {
		add(&v.MakeupSessions[i])
	}
	for i := range v.CompletedMakeupSessions {
		add(&v.CompletedMakeupSessions[i])
	}
	for i := range v.ArchivedTerms {
		add(&v.ArchivedTerms[i])
	}
	v.Profile.Deleted = false
	return out
}

func unchanged(current models.Tables, e models.Entity) bool {
	existing, ok := current.Find(e.Table(), e.SyncMeta().ID)
	if !ok {
		return false
	}
	a, err := json.Marshal(existing)
	if err != nil {
		return false
	}
	b, err := json.Marshal(e)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// SaveProfiles writes the given views to the local store and starts a flush.
// Rows identical to the stored ones are skipped; live children of a saved
// profile that are absent from its view are tombstoned. Profiles not passed
// in are left alone. The views are updated in place with assigned ids and
// stamped metadata.
//
// Every row is validated before anything is written, so an invalid view
// leaves the store untouched. A failed flush is logged, not returned: the
// changes stay queued for the next attempt.
func (f *Facade) SaveProfiles(ctx context.Context, userID string, views []ProfileView) error {
	id := identity(userID)
	current := f.store.Load(ctx, id).Entities

	var writes []models.Entity
	keep := map[string]bool{}
	saved := map[string]bool{}
	for i := range views {
		for _, e := range views[i].rows() {
			keep[string(e.Table())+"/"+e.SyncMeta().ID] = true
			if unchanged(current, e) {
				continue
			}
			if err := models.Validate(e); err != nil {
				return fmt.Errorf("save profiles: %w", err)
			}
			writes = append(writes, e)
		}
		saved[views[i].Profile.ID] = true
	}

	for _, e := range writes {
		if err := f.store.UpsertEntity(ctx, id, e); err != nil {
			return fmt.Errorf("save %s %s: %w", e.Table(), e.SyncMeta().ID, err)
		}
	}

	removed := 0
	for _, table := range models.AllTables[1:] {
		for _, e := range current.Entities(table) {
			row, ok := e.(models.ProfileScoped)
			if !ok || e.SyncMeta().Deleted || !saved[row.OwnerProfileID()] {
				continue
			}
			if keep[string(table)+"/"+e.SyncMeta().ID] {
				continue
			}
			if err := f.store.DeleteEntity(ctx, id, table, e.SyncMeta().ID); err != nil {
				return fmt.Errorf("remove %s %s: %w", table, e.SyncMeta().ID, err)
			}
			removed++
		}
	}

	f.logger.Debug(ctx, "profiles saved", "identity", id.String(), "written", len(writes), "removed", removed)
	f.flush(ctx, id)
	return nil
}

// DeleteProfile tombstones a profile together with all of its children.
func (f *Facade) DeleteProfile(ctx context.Context, userID, profileID string) error {
	id := identity(userID)
	current := f.store.Load(ctx, id).Entities
	for _, table := range models.AllTables[1:] {
		for _, e := range current.Entities(table) {
			row, ok := e.(models.ProfileScoped)
			if !ok || e.SyncMeta().Deleted || row.OwnerProfileID() != profileID {
				continue
			}
			if err := f.store.DeleteEntity(ctx, id, table, e.SyncMeta().ID); err != nil {
				return fmt.Errorf("remove %s %s: %w", table, e.SyncMeta().ID, err)
			}
		}
	}
	if err := f.store.DeleteEntity(ctx, id, models.TableProfiles, profileID); err != nil {
		return fmt.Errorf("remove profile %s: %w", profileID, err)
	}
	f.flush(ctx, id)
	return nil
}

func (f *Facade) flush(ctx context.Context, id store.Identity) {
	if id.IsGuest() {
		return
	}
	if _, err := f.engine.Flush(ctx, id); err != nil {
		f.logger.Warn(ctx, "flush after save failed", "identity", id.String(), "error", err)
	}
}
