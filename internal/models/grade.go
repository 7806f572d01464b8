package models

import "time"

// Grade is the final course grade for a student. One row exists per student
// and course; re-grading overwrites it.
type Grade struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Score     float64   `db:"score" json:"score"`
	Letter    string    `db:"letter" json:"letter"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	GradedBy  string    `db:"graded_by" json:"graded_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	StudentName *string `db:"student_name" json:"student_name,omitempty"`
	CourseTitle *string `db:"course_title" json:"course_title,omitempty"`
}

// GradeSummary aggregates grading statistics for a course.
type GradeSummary struct {
	CourseID     string  `db:"course_id" json:"course_id"`
	GradedCount  int     `db:"graded_count" json:"graded_count"`
	AverageScore float64 `db:"average_score" json:"average_score"`
	HighestScore float64 `db:"highest_score" json:"highest_score"`
	LowestScore  float64 `db:"lowest_score" json:"lowest_score"`
}
