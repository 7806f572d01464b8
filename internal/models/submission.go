package models

import "time"

// Submission is a student's answer to an assignment. One row exists per
// assignment and student; resubmitting replaces the content and bumps the
// attempt counter.
type Submission struct {
	ID           string     `db:"id" json:"id"`
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	Content      string     `db:"content" json:"content"`
	Attempt      int        `db:"attempt" json:"attempt"`
	Late         bool       `db:"late" json:"late"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	Score        *float64   `db:"score" json:"score,omitempty"`
	PenaltyPct   *float64   `db:"penalty_pct" json:"penalty_pct,omitempty"`
	Feedback     *string    `db:"feedback" json:"feedback,omitempty"`
	GradedBy     *string    `db:"graded_by" json:"graded_by,omitempty"`
	GradedAt     *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`

	StudentName *string `db:"student_name" json:"student_name,omitempty"`
}
