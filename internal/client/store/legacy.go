package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/merge"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

const (
	// LegacyProfilesKey holds the pre-table layout: an array of profiles,
	// each embedding its own rows.
	LegacyProfilesKey = "profiles"
	// LegacyArchivePrefix prefixes archived copies of the legacy key.
	LegacyArchivePrefix = "archived:profiles:"
)

type legacyProfile struct {
	models.Profile
	Students                []models.Student                `json:"students"`
	Groups                  []models.Group                  `json:"groups"`
	AttendanceRecords       []models.AttendanceRecord       `json:"attendanceRecords"`
	MakeupSessions          []models.MakeupSession          `json:"makeupSessions"`
	CompletedMakeupSessions []models.CompletedMakeupSession `json:"completedMakeupSessions"`
	ArchivedTerms           []models.ArchivedTerm           `json:"archivedTerms"`
}

// flatten converts legacy profiles into tables, filling the parent profile
// id on rows that lack one. Profiles get their metadata first so that an
// id-less profile hands its new id to its rows.
func flatten(profiles []legacyProfile, now time.Time) models.Tables {
	var t models.Tables
	for _, p := range profiles {
		p.Profile.SyncMeta().FillDefaults(now)
		pid := p.ID
		t.Profiles = append(t.Profiles, p.Profile)
		for _, r := range p.Students {
			r.ProfileID = orDefault(r.ProfileID, pid)
			t.Students = append(t.Students, r)
		}
		for _, r := range p.Groups {
			r.ProfileID = orDefault(r.ProfileID, pid)
			t.Groups = append(t.Groups, r)
		}
		for _, r := range p.AttendanceRecords {
			r.ProfileID = orDefault(r.ProfileID, pid)
			t.AttendanceRecords = append(t.AttendanceRecords, r)
		}
		for _, r := range p.MakeupSessions {
			r.ProfileID = orDefault(r.ProfileID, pid)
			t.MakeupSessions = append(t.MakeupSessions, r)
		}
		for _, r := range p.CompletedMakeupSessions {
			r.ProfileID = orDefault(r.ProfileID, pid)
			t.CompletedMakeupSessions = append(t.CompletedMakeupSessions, r)
		}
		for _, r := range p.ArchivedTerms {
			r.ProfileID = orDefault(r.ProfileID, pid)
			t.ArchivedTerms = append(t.ArchivedTerms, r)
		}
	}
	t.Normalize()
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ImportLegacy converts a legacy profiles array into the guest document and
// moves the legacy key aside. It reports whether anything was imported. An
// unreadable legacy value is archived without import.
func (s *Store) ImportLegacy(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.Get(ctx, LegacyProfilesKey)
	if err != nil {
		return false, fmt.Errorf("read legacy profiles: %w", err)
	}
	if raw == nil {
		return false, nil
	}

	imported := false
	var profiles []legacyProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		s.log.Warn(ctx, "legacy profiles unreadable, archiving as is", "error", err)
	} else {
		now := s.now()
		tables := flatten(profiles, now)
		for _, table := range models.AllTables {
			for _, e := range tables.Entities(table) {
				e.SyncMeta().FillDefaults(now)
			}
		}

		doc := s.load(ctx, Guest())
		doc.Entities = merge.Tables(doc.Entities, tables)
		if err := s.save(ctx, doc, Guest()); err != nil {
			return false, err
		}
		imported = true
		s.log.Info(ctx, "legacy profiles imported", "profiles", len(profiles), "rows", tables.LiveCount())
	}

	archiveKey := fmt.Sprintf("%s%d", LegacyArchivePrefix, s.now().Unix())
	if err := s.kv.Set(ctx, archiveKey, raw); err != nil {
		return imported, fmt.Errorf("archive legacy profiles: %w", err)
	}
	if err := s.kv.Delete(ctx, LegacyProfilesKey); err != nil {
		return imported, fmt.Errorf("remove legacy profiles: %w", err)
	}
	return imported, nil
}
