package models

import "time"

// EnrollmentStatus tracks a student's standing in a course.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Enrollment links a student to a course. A student holds at most one
// enrollment row per course.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`

	StudentName *string `db:"student_name" json:"student_name,omitempty"`
	CourseTitle *string `db:"course_title" json:"course_title,omitempty"`
}

// EnrollmentFilter captures filtering criteria for listing enrollments.
type EnrollmentFilter struct {
	CourseID  string
	StudentID string
	Status    *EnrollmentStatus
	Page      int
	PageSize  int
}
