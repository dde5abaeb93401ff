package models

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
)

// Ptr constrains generic helpers to pointer-to-record types, letting them
// reach the embedded Meta of a value stored in a slice.
type Ptr[T any] interface {
	*T
	Entity
}

// Tables holds one slice per entity table. Slices are the canonical storage;
// order inside a table carries no meaning.
type Tables struct {
	Profiles                []Profile                `json:"profiles"`
	Students                []Student                `json:"students"`
	Groups                  []Group                  `json:"groups"`
	AttendanceRecords       []AttendanceRecord       `json:"attendance_records"`
	MakeupSessions          []MakeupSession          `json:"makeup_sessions"`
	CompletedMakeupSessions []CompletedMakeupSession `json:"completed_makeup_sessions"`
	ArchivedTerms           []ArchivedTerm           `json:"archived_terms"`
}

// NewEntity returns a zero record for the table.
func NewEntity(table TableName) (Entity, error) {
	switch table {
	case TableProfiles:
		return &Profile{}, nil
	case TableStudents:
		return &Student{}, nil
	case TableGroups:
		return &Group{}, nil
	case TableAttendanceRecords:
		return &AttendanceRecord{}, nil
	case TableMakeupSessions:
		return &MakeupSession{}, nil
	case TableCompletedMakeupSessions:
		return &CompletedMakeupSession{}, nil
	case TableArchivedTerms:
		return &ArchivedTerm{}, nil
	}
	return nil, fmt.Errorf("%w: %q", common.ErrUnknownTable, table)
}

// DecodeEntity decodes one JSON row of the given table.
func DecodeEntity(table TableName, raw []byte) (Entity, error) {
	e, err := NewEntity(table)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", table, err)
	}
	return e, nil
}

// Normalize replaces nil slices with empty ones so documents always
// serialize every table as an array.
func (t *Tables) Normalize() {
	if t.Profiles == nil {
		t.Profiles = []Profile{}
	}
	if t.Students == nil {
		t.Students = []Student{}
	}
	if t.Groups == nil {
		t.Groups = []Group{}
	}
	if t.AttendanceRecords == nil {
		t.AttendanceRecords = []AttendanceRecord{}
	}
	if t.MakeupSessions == nil {
		t.MakeupSessions = []MakeupSession{}
	}
	if t.CompletedMakeupSessions == nil {
		t.CompletedMakeupSessions = []CompletedMakeupSession{}
	}
	if t.ArchivedTerms == nil {
		t.ArchivedTerms = []ArchivedTerm{}
	}
}

// Entities returns pointers into the table's backing slice. Mutating an
// element through the pointer mutates the table.
func (t *Tables) Entities(table TableName) []Entity {
	switch table {
	case TableProfiles:
		return pointers(t.Profiles)
	case TableStudents:
		return pointers(t.Students)
	case TableGroups:
		return pointers(t.Groups)
	case TableAttendanceRecords:
		return pointers(t.AttendanceRecords)
	case TableMakeupSessions:
		return pointers(t.MakeupSessions)
	case TableCompletedMakeupSessions:
		return pointers(t.CompletedMakeupSessions)
	case TableArchivedTerms:
		return pointers(t.ArchivedTerms)
	}
	return nil
}

// Find looks a record up by id, tombstones included.
func (t *Tables) Find(table TableName, id string) (Entity, bool) {
	for _, e := range t.Entities(table) {
		if e.SyncMeta().ID == id {
			return e, true
		}
	}
	return nil, false
}

// Upsert replaces the record with the same id or appends it.
func (t *Tables) Upsert(e Entity) error {
	switch v := e.(type) {
	case *Profile:
		t.Profiles = upsertRow(t.Profiles, *v)
	case *Student:
		t.Students = upsertRow(t.Students, *v)
	case *Group:
		t.Groups = upsertRow(t.Groups, *v)
	case *AttendanceRecord:
		t.AttendanceRecords = upsertRow(t.AttendanceRecords, *v)
	case *MakeupSession:
		t.MakeupSessions = upsertRow(t.MakeupSessions, *v)
	case *CompletedMakeupSession:
		t.CompletedMakeupSessions = upsertRow(t.CompletedMakeupSessions, *v)
	case *ArchivedTerm:
		t.ArchivedTerms = upsertRow(t.ArchivedTerms, *v)
	default:
		return fmt.Errorf("%w: %T", common.ErrUnknownTable, e)
	}
	return nil
}

// SetRows replaces a table with decoded JSON rows.
func (t *Tables) SetRows(table TableName, raws []json.RawMessage) error {
	var err error
	switch table {
	case TableProfiles:
		t.Profiles, err = decodeRows[Profile](raws)
	case TableStudents:
		t.Students, err = decodeRows[Student](raws)
	case TableGroups:
		t.Groups, err = decodeRows[Group](raws)
	case TableAttendanceRecords:
		t.AttendanceRecords, err = decodeRows[AttendanceRecord](raws)
	case TableMakeupSessions:
		t.MakeupSessions, err = decodeRows[MakeupSession](raws)
	case TableCompletedMakeupSessions:
		t.CompletedMakeupSessions, err = decodeRows[CompletedMakeupSession](raws)
	case TableArchivedTerms:
		t.ArchivedTerms, err = decodeRows[ArchivedTerm](raws)
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownTable, table)
	}
	if err != nil {
		return fmt.Errorf("decode %s rows: %w", table, err)
	}
	return nil
}

// Len counts raw rows of a table, tombstones included.
func (t *Tables) Len(table TableName) int {
	return len(t.Entities(table))
}

// LiveCount counts non-deleted rows across every table.
func (t *Tables) LiveCount() int {
	n := 0
	for _, table := range AllTables {
		for _, e := range t.Entities(table) {
			if !e.SyncMeta().Deleted {
				n++
			}
		}
	}
	return n
}

// IsEmpty reports whether no table holds a live record.
func (t *Tables) IsEmpty() bool {
	return t.LiveCount() == 0
}

// Live returns copies of the non-deleted rows of a typed table.
func Live[T any, P Ptr[T]](rows []T) []T {
	out := make([]T, 0, len(rows))
	for i := range rows {
		if !P(&rows[i]).SyncMeta().Deleted {
			out = append(out, rows[i])
		}
	}
	return out
}

func pointers[T any, P Ptr[T]](rows []T) []Entity {
	out := make([]Entity, len(rows))
	for i := range rows {
		out[i] = P(&rows[i])
	}
	return out
}

func upsertRow[T any, P Ptr[T]](rows []T, row T) []T {
	id := P(&row).SyncMeta().ID
	for i := range rows {
		if P(&rows[i]).SyncMeta().ID == id {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

func decodeRows[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
