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

const attendanceColumns = `id, course_id, date, entries, recorded_by, created_at, updated_at`

// AttendanceRepository provides database access for attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository creates a new instance of AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// FindByCourseAndDate returns the single attendance record for a course on a date.
func (r *AttendanceRepository) FindByCourseAndDate(ctx context.Context, courseID string, date time.Time) (*models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE course_id = $1 AND date = $2 LIMIT 1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, courseID, date); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	return &record, nil
}

// ListByCourse returns all attendance records for a course ordered by date.
func (r *AttendanceRepository) ListByCourse(ctx context.Context, courseID string) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE course_id = $1 ORDER BY date ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, courseID); err != nil {
		return nil, fmt.Errorf("list attendance by course: %w", err)
	}
	return records, nil
}

// Upsert creates or replaces the attendance record for a course and date.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO attendance_records (id, course_id, date, entries, recorded_by, created_at, updated_at)
VALUES (:id, :course_id, :date, :entries, :recorded_by, :created_at, :updated_at)
ON CONFLICT (course_id, date) DO UPDATE SET
	entries = EXCLUDED.entries,
	recorded_by = EXCLUDED.recorded_by,
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert attendance record: %w", err)
	}
	return nil
}

// Delete removes the attendance record for a course and date.
func (r *AttendanceRepository) Delete(ctx context.Context, courseID string, date time.Time) error {
	const query = `DELETE FROM attendance_records WHERE course_id = $1 AND date = $2`
	result, err := r.db.ExecContext(ctx, query, courseID, date)
	if err != nil {
		return fmt.Errorf("delete attendance record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attendance rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AverageAttendanceByCourse returns, per course, the mean fraction of countable
// entries marked PRESENT or LATE across all recorded sessions.
func (r *AttendanceRepository) AverageAttendanceByCourse(ctx context.Context) (map[string]float64, error) {
	const query = `SELECT course_id,
	AVG(CASE WHEN countable = 0 THEN 0 ELSE attended::float / countable END) AS average
FROM (
	SELECT ar.course_id,
		COUNT(*) FILTER (WHERE e->>'status' IN ('PRESENT', 'LATE')) AS attended,
		COUNT(*) FILTER (WHERE e->>'status' <> 'EXCUSED') AS countable
	FROM attendance_records ar, jsonb_array_elements(ar.entries) e
	GROUP BY ar.id, ar.course_id
) per_session
GROUP BY course_id`
	rows := []struct {
		CourseID string  `db:"course_id"`
		Average  float64 `db:"average"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("average attendance by course: %w", err)
	}
	averages := make(map[string]float64, len(rows))
	for _, row := range rows {
		averages[row.CourseID] = row.Average
	}
	return averages, nil
}
