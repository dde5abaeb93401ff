package models

// Profile is a coaching context (club, sport, season) owning every other record.
type Profile struct {
	Meta
	Name   string `json:"name" validate:"required,max=120"`
	Sport  string `json:"sport,omitempty" validate:"max=60"`
	Season string `json:"season,omitempty" validate:"max=60"`
}

func (Profile) Table() TableName         { return TableProfiles }
func (p Profile) OwnerProfileID() string { return p.ID }

// Student is an athlete on a coach's roster.
type Student struct {
	Meta
	ProfileID       string `json:"profile_id" validate:"required"`
	Name            string `json:"name" validate:"required,max=120"`
	Phone           string `json:"phone,omitempty" validate:"max=40"`
	Notes           string `json:"notes,omitempty"`
	PrepaidSessions int    `json:"prepaidSessions" validate:"gte=0"`
}

func (Student) Table() TableName          { return TableStudents }
func (s Student) OwnerProfileID() string  { return s.ProfileID }
func (s *Student) SetProfileID(id string) { s.ProfileID = id }

// Group is a training group with a set of students.
type Group struct {
	Meta
	ProfileID  string   `json:"profile_id" validate:"required"`
	Name       string   `json:"name" validate:"required,max=120"`
	Schedule   string   `json:"schedule,omitempty"`
	StudentIDs []string `json:"student_ids"`
}

func (Group) Table() TableName          { return TableGroups }
func (g Group) OwnerProfileID() string  { return g.ProfileID }
func (g *Group) SetProfileID(id string) { g.ProfileID = id }

// Attendance statuses.
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceExcused = "excused"
	AttendanceLate    = "late"
)

// AttendanceRecord is one student's presence at one session date.
type AttendanceRecord struct {
	Meta
	ProfileID string `json:"profile_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
	GroupID   string `json:"group_id,omitempty"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Status    string `json:"status" validate:"required,oneof=present absent excused late"`
	Note      string `json:"note,omitempty"`
}

func (AttendanceRecord) Table() TableName          { return TableAttendanceRecords }
func (a AttendanceRecord) OwnerProfileID() string  { return a.ProfileID }
func (a *AttendanceRecord) SetProfileID(id string) { a.ProfileID = id }

// MakeupSession is a missed session owed to a student.
type MakeupSession struct {
	Meta
	ProfileID   string `json:"profile_id" validate:"required"`
	StudentID   string `json:"student_id" validate:"required"`
	MissedDate  string `json:"missed_date" validate:"required,datetime=2006-01-02"`
	Reason      string `json:"reason,omitempty"`
	ScheduledAt string `json:"scheduled_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (MakeupSession) Table() TableName          { return TableMakeupSessions }
func (m MakeupSession) OwnerProfileID() string  { return m.ProfileID }
func (m *MakeupSession) SetProfileID(id string) { m.ProfileID = id }

// CompletedMakeupSession records that an owed session was made up.
type CompletedMakeupSession struct {
	Meta
	ProfileID       string `json:"profile_id" validate:"required"`
	StudentID       string `json:"student_id" validate:"required"`
	MakeupSessionID string `json:"makeup_session_id,omitempty"`
	GroupID         string `json:"group_id,omitempty"`
	CompletedDate   string `json:"completed_date" validate:"required,datetime=2006-01-02"`
}

func (CompletedMakeupSession) Table() TableName          { return TableCompletedMakeupSessions }
func (c CompletedMakeupSession) OwnerProfileID() string  { return c.ProfileID }
func (c *CompletedMakeupSession) SetProfileID(id string) { c.ProfileID = id }

// ArchivedTerm freezes a finished term with its summary counters.
type ArchivedTerm struct {
	Meta
	ProfileID string         `json:"profile_id" validate:"required"`
	Name      string         `json:"name" validate:"required,max=120"`
	StartDate string         `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string         `json:"end_date" validate:"required,datetime=2006-01-02"`
	Summary   map[string]any `json:"summary,omitempty"`
}

func (ArchivedTerm) Table() TableName          { return TableArchivedTerms }
func (a ArchivedTerm) OwnerProfileID() string  { return a.ProfileID }
func (a *ArchivedTerm) SetProfileID(id string) { a.ProfileID = id }
