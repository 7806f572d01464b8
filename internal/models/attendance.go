package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceStatus marks a student's presence for one session.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
	AttendanceExcused AttendanceStatus = "EXCUSED"
)

// Valid reports whether the status is a known attendance state.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	default:
		return false
	}
}

// AttendanceEntry records one student's status on a sheet.
type AttendanceEntry struct {
	StudentID string           `json:"student_id"`
	Status    AttendanceStatus `json:"status"`
	Note      string           `json:"note,omitempty"`
}

// AttendanceEntryList stores the per-student entries as a jsonb column.
type AttendanceEntryList []AttendanceEntry

// Value implements driver.Valuer.
func (l AttendanceEntryList) Value() (driver.Value, error) {
	if l == nil {
		l = AttendanceEntryList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *AttendanceEntryList) Scan(src interface{}) error {
	switch data := src.(type) {
	case nil:
		*l = AttendanceEntryList{}
		return nil
	case []byte:
		return json.Unmarshal(data, l)
	case string:
		return json.Unmarshal([]byte(data), l)
	default:
		return fmt.Errorf("unsupported attendance entries source %T", src)
	}
}

// AttendanceRecord is one attendance sheet: a course, a date and the entries
// for every tracked student. One sheet exists per course and date.
type AttendanceRecord struct {
	ID         string              `db:"id" json:"id"`
	CourseID   string              `db:"course_id" json:"course_id"`
	Date       time.Time           `db:"date" json:"date"`
	Entries    AttendanceEntryList `db:"entries" json:"entries"`
	RecordedBy string              `db:"recorded_by" json:"recorded_by"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at" json:"updated_at"`
}

// AttendanceSummary reports one student's attendance rate in a course.
// Present and late sessions count as attended; excused sessions are excluded
// from the denominator.
type AttendanceSummary struct {
	StudentID        string  `json:"student_id"`
	CourseID         string  `json:"course_id"`
	Sessions         int     `json:"sessions"`
	Attended         int     `json:"attended"`
	Absent           int     `json:"absent"`
	Excused          int     `json:"excused"`
	Percentage       float64 `json:"percentage"`
	RequiredPct      float64 `json:"required_pct"`
	MeetsRequirement bool    `json:"meets_requirement"`
}
