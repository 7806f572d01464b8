package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

const submissionSelect = `SELECT s.id, s.assignment_id, s.student_id, s.content, s.attempt, s.late, s.submitted_at,
	s.score, s.penalty_pct, s.feedback, s.graded_by, s.graded_at, s.created_at, s.updated_at,
	u.full_name AS student_name
FROM submissions s
JOIN users u ON u.id = s.student_id`

// SubmissionRepository provides database access for assignment submissions.
// One row exists per assignment and student; resubmissions rewrite the row.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository creates a new instance of SubmissionRepository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByID returns a submission by identifier.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	query := submissionSelect + ` WHERE s.id = $1 LIMIT 1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find submission by id: %w", err)
	}
	return &submission, nil
}

// FindByStudentAndAssignment returns a student's submission row for an
// assignment.
func (r *SubmissionRepository) FindByStudentAndAssignment(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	query := submissionSelect + ` WHERE s.assignment_id = $1 AND s.student_id = $2 LIMIT 1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assignmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find submission by student and assignment: %w", err)
	}
	return &submission, nil
}

// ListByAssignment returns all submissions for an assignment, newest first.
func (r *SubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	query := submissionSelect + ` WHERE s.assignment_id = $1 ORDER BY s.submitted_at DESC`
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list submissions by assignment: %w", err)
	}
	return submissions, nil
}

// Create inserts the first submission attempt. A second row for the same
// assignment and student surfaces as a conflict.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = now
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = now
	}
	submission.UpdatedAt = now

	const query = `INSERT INTO submissions (id, assignment_id, student_id, content, attempt, late, submitted_at, score, penalty_pct, feedback, graded_by, graded_at, created_at, updated_at)
VALUES (:id, :assignment_id, :student_id, :content, :attempt, :late, :submitted_at, :score, :penalty_pct, :feedback, :graded_by, :graded_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, submission); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "submission already exists for this assignment")
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// Resubmit replaces the submission content, bumps the attempt counter and
// clears any earlier grading.
func (r *SubmissionRepository) Resubmit(ctx context.Context, id, content string, late bool, submittedAt time.Time) error {
	const query = `UPDATE submissions
SET content = $2, attempt = attempt + 1, late = $3, submitted_at = $4,
	score = NULL, penalty_pct = NULL, feedback = NULL, graded_by = NULL, graded_at = NULL,
	updated_at = $4
WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, content, late, submittedAt)
	if err != nil {
		return fmt.Errorf("resubmit submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resubmit submission rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Grade records a score and feedback on an existing submission.
func (r *SubmissionRepository) Grade(ctx context.Context, id string, score float64, penaltyPct *float64, feedback, gradedBy string) error {
	const query = `UPDATE submissions SET score = $2, penalty_pct = $3, feedback = $4, graded_by = $5, graded_at = $6, updated_at = $6 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, score, penaltyPct, feedback, gradedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("grade submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("grade submission rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
