package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edumanage/edumanage-api/internal/models"
)

const gradeSelect = `SELECT g.id, g.student_id, g.course_id, g.score, g.letter, g.comment, g.graded_by, g.created_at, g.updated_at,
	u.full_name AS student_name
FROM grades g
JOIN users u ON u.id = g.student_id`

// GradeRepository provides database access for final course grades.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates a new instance of GradeRepository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// FindByStudentAndCourse returns the grade for one student in one course.
func (r *GradeRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Grade, error) {
	query := gradeSelect + ` WHERE g.student_id = $1 AND g.course_id = $2 LIMIT 1`
	var grade models.Grade
	if err := r.db.GetContext(ctx, &grade, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &grade, nil
}

// ListByCourse returns all grades recorded for a course.
func (r *GradeRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Grade, error) {
	query := gradeSelect + ` WHERE g.course_id = $1 ORDER BY u.full_name ASC`
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, courseID); err != nil {
		return nil, fmt.Errorf("list grades by course: %w", err)
	}
	return grades, nil
}

// ListByStudent returns all grades recorded for a student.
func (r *GradeRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Grade, error) {
	query := `SELECT g.id, g.student_id, g.course_id, g.score, g.letter, g.comment, g.graded_by, g.created_at, g.updated_at,
	c.title AS course_title
FROM grades g
JOIN courses c ON c.id = g.course_id
WHERE g.student_id = $1 ORDER BY g.updated_at DESC`
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, studentID); err != nil {
		return nil, fmt.Errorf("list grades by student: %w", err)
	}
	return grades, nil
}

// Upsert inserts or replaces the grade for a student in a course.
func (r *GradeRepository) Upsert(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now

	const query = `INSERT INTO grades (id, student_id, course_id, score, letter, comment, graded_by, created_at, updated_at)
VALUES (:id, :student_id, :course_id, :score, :letter, :comment, :graded_by, :created_at, :updated_at)
ON CONFLICT (student_id, course_id) DO UPDATE SET
	score = EXCLUDED.score,
	letter = EXCLUDED.letter,
	comment = EXCLUDED.comment,
	graded_by = EXCLUDED.graded_by,
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("upsert grade: %w", err)
	}
	return nil
}

// CourseSummary aggregates grade statistics for a course.
func (r *GradeRepository) CourseSummary(ctx context.Context, courseID string) (*models.GradeSummary, error) {
	const query = `SELECT COUNT(*) AS graded_count,
	COALESCE(AVG(score), 0) AS average_score,
	COALESCE(MAX(score), 0) AS highest_score,
	COALESCE(MIN(score), 0) AS lowest_score
FROM grades WHERE course_id = $1`
	var summary models.GradeSummary
	if err := r.db.GetContext(ctx, &summary, query, courseID); err != nil {
		return nil, fmt.Errorf("grade course summary: %w", err)
	}
	return &summary, nil
}

// AverageByCourse returns the mean numeric score per course for all listed courses.
func (r *GradeRepository) AverageByCourse(ctx context.Context) (map[string]float64, error) {
	const query = `SELECT course_id, AVG(score) AS average FROM grades GROUP BY course_id`
	rows := []struct {
		CourseID string  `db:"course_id"`
		Average  float64 `db:"average"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("grade averages by course: %w", err)
	}
	averages := make(map[string]float64, len(rows))
	for _, row := range rows {
		averages[row.CourseID] = row.Average
	}
	return averages, nil
}
