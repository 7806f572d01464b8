package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

const enrollmentSelect = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrolled_at, e.dropped_at, e.completed_at,
	s.full_name AS student_name,
	c.title AS course_title
FROM enrollments e
LEFT JOIN users s ON s.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`

// EnrollmentRepository provides database access for enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new instance of EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by identifier.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE e.id = $1 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by id: %w", err)
	}
	return &enrollment, nil
}

// FindByStudentAndCourse returns the enrollment row for a student and course.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE e.student_id = $1 AND e.course_id = $2 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by student and course: %w", err)
	}
	return &enrollment, nil
}

// List returns enrollments based on filters with total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("%s%s ORDER BY e.enrolled_at DESC LIMIT %d OFFSET %d", enrollmentSelect, where, pageSize, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM enrollments e%s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	return enrollments, total, nil
}

// Create inserts a new enrollment. A second enrollment for the same student
// and course surfaces as a conflict.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}

	const query = `INSERT INTO enrollments (id, student_id, course_id, status, enrolled_at) VALUES (:id, :student_id, :course_id, :status, :enrolled_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this course")
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus transitions an enrollment to the given status, stamping the
// matching timestamp column.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) error {
	var query string
	switch status {
	case models.EnrollmentStatusDropped:
		query = `UPDATE enrollments SET status = $2, dropped_at = $3 WHERE id = $1`
	case models.EnrollmentStatusCompleted:
		query = `UPDATE enrollments SET status = $2, completed_at = $3 WHERE id = $1`
	default:
		return fmt.Errorf("unsupported enrollment transition %q", status)
	}

	result, err := r.db.ExecContext(ctx, query, id, status, at)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRecent returns the newest enrollments across all courses.
func (r *EnrollmentRepository) ListRecent(ctx context.Context, limit int) ([]models.Enrollment, error) {
	if limit <= 0 || limit > 50 {
		limit = 5
	}
	query := fmt.Sprintf("%s ORDER BY e.enrolled_at DESC LIMIT %d", enrollmentSelect, limit)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query); err != nil {
		return nil, fmt.Errorf("list recent enrollments: %w", err)
	}
	return enrollments, nil
}
