package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/cloudsync"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

// today is a test seam for the default attendance date.
var today = func() string { return time.Now().Format(time.DateOnly) }

func (a *App) views(ctx context.Context) []cloudsync.ProfileView {
	return a.facade.LocalProfiles(ctx, a.userID())
}

// chooseProfile asks for a profile id. An empty answer picks the only
// profile when there is exactly one.
func (a *App) chooseProfile(ctx context.Context) (cloudsync.ProfileView, error) {
	views := a.views(ctx)
	if len(views) == 0 {
		return cloudsync.ProfileView{}, fmt.Errorf("no profiles yet, use 'addprofile' first")
	}
	prompt := "Profile id"
	if len(views) == 1 {
		prompt = fmt.Sprintf("Profile id (empty for %s)", views[0].Profile.Name)
	}
	id, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return cloudsync.ProfileView{}, err
	}
	if id == "" && len(views) == 1 {
		return views[0], nil
	}
	for _, v := range views {
		if v.Profile.ID == id {
			return v, nil
		}
	}
	return cloudsync.ProfileView{}, fmt.Errorf("profile %q not found", id)
}

// Profiles lists the live profiles with their record counts.
func (a *App) Profiles(ctx context.Context) error {
	views := a.views(ctx)
	if len(views) == 0 {
		printlnFn("No profiles")
		return nil
	}
	for _, v := range views {
		printlnFn(fmt.Sprintf("%s  %s  %s %s  students=%d groups=%d attendance=%d",
			v.Profile.ID, v.Profile.Name, orDash(v.Profile.Sport), orDash(v.Profile.Season),
			len(v.Students), len(v.Groups), len(v.AttendanceRecords)))
	}
	return nil
}

// AddProfile creates a profile.
func (a *App) AddProfile(ctx context.Context) error {
	name, err := getSimpleText(a.reader, "Profile name", a.out)
	if err != nil {
		return err
	}
	sport, err := getSimpleText(a.reader, "Sport", a.out)
	if err != nil {
		return err
	}
	season, err := getSimpleText(a.reader, "Season", a.out)
	if err != nil {
		return err
	}

	views := []cloudsync.ProfileView{{Profile: models.Profile{Name: name, Sport: sport, Season: season}}}
	if err := a.facade.SaveProfiles(ctx, a.userID(), views); err != nil {
		return err
	}
	printlnFn("Added profile", views[0].Profile.ID)
	return nil
}

// Students lists the students of a profile.
func (a *App) Students(ctx context.Context) error {
	v, err := a.chooseProfile(ctx)
	if err != nil {
		return err
	}
	if len(v.Students) == 0 {
		printlnFn("No students")
		return nil
	}
	for _, s := range v.Students {
		printlnFn(fmt.Sprintf("%s  %s  %s  prepaid=%d", s.ID, s.Name, orDash(s.Phone), s.PrepaidSessions))
	}
	return nil
}

// AddStudent adds a student to a profile.
func (a *App) AddStudent(ctx context.Context) error {
	v, err := a.chooseProfile(ctx)
	if err != nil {
		return err
	}
	name, err := getSimpleText(a.reader, "Student name", a.out)
	if err != nil {
		return err
	}
	phone, err := getSimpleText(a.reader, "Phone", a.out)
	if err != nil {
		return err
	}
	prepaidText, err := getSimpleText(a.reader, "Prepaid sessions (empty for 0)", a.out)
	if err != nil {
		return err
	}
	prepaid := 0
	if prepaidText != "" {
		if prepaid, err = strconv.Atoi(prepaidText); err != nil {
			return fmt.Errorf("prepaid sessions: %w", err)
		}
	}

	v.Students = append(v.Students, models.Student{Name: name, Phone: phone, PrepaidSessions: prepaid})
	views := []cloudsync.ProfileView{v}
	if err := a.facade.SaveProfiles(ctx, a.userID(), views); err != nil {
		return err
	}
	printlnFn("Added student", views[0].Students[len(views[0].Students)-1].ID)
	return nil
}

// Attend records one attendance mark for a student.
func (a *App) Attend(ctx context.Context) error {
	v, err := a.chooseProfile(ctx)
	if err != nil {
		return err
	}
	studentID, err := getSimpleText(a.reader, "Student id", a.out)
	if err != nil {
		return err
	}
	found := false
	for _, s := range v.Students {
		found = found || s.ID == studentID
	}
	if !found {
		return fmt.Errorf("student %q not found in profile %s", studentID, v.Profile.Name)
	}

	status, err := getSimpleText(a.reader, "Status (present/absent/excused/late, empty for present)", a.out)
	if err != nil {
		return err
	}
	if status == "" {
		status = models.AttendancePresent
	}
	date, err := getSimpleText(a.reader, "Date YYYY-MM-DD (empty for today)", a.out)
	if err != nil {
		return err
	}
	if date == "" {
		date = today()
	}

	rec := &models.AttendanceRecord{
		ProfileID: v.Profile.ID,
		StudentID: studentID,
		Date:      date,
		Status:    strings.ToLower(status),
	}
	if err := a.store.UpsertEntity(ctx, a.identity(), rec); err != nil {
		return err
	}
	a.flush(ctx)
	printlnFn("Recorded", rec.Status, "on", rec.Date)
	return nil
}

// Delete tombstones one record. Deleting a profile removes its children too.
func (a *App) Delete(ctx context.Context) error {
	tableText, err := getSimpleText(a.reader, "Table (profiles, students, groups, attendance_records, ...)", a.out)
	if err != nil {
		return err
	}
	table, err := models.ParseTable(tableText)
	if err != nil {
		return err
	}
	id, err := getSimpleText(a.reader, "Record id", a.out)
	if err != nil {
		return err
	}

	if table == models.TableProfiles {
		if err := a.facade.DeleteProfile(ctx, a.userID(), id); err != nil {
			return err
		}
	} else {
		if err := a.store.DeleteEntity(ctx, a.identity(), table, id); err != nil {
			return err
		}
		a.flush(ctx)
	}
	printlnFn("Deleted", table, id)
	return nil
}
