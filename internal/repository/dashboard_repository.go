package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DashboardCounts holds the headline numbers for the admin dashboard.
type DashboardCounts struct {
	Students          int `db:"students"`
	Teachers          int `db:"teachers"`
	ActiveCourses     int `db:"active_courses"`
	PendingCourses    int `db:"pending_courses"`
	ActiveEnrollments int `db:"active_enrollments"`
	UnreadMessages    int `db:"unread_messages"`
}

// DashboardRepository aggregates cross-table statistics for the dashboard.
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository creates a new instance of DashboardRepository.
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// Counts runs a single aggregate query across the core tables.
func (r *DashboardRepository) Counts(ctx context.Context) (*DashboardCounts, error) {
	const query = `SELECT
	(SELECT COUNT(*) FROM users WHERE role = 'STUDENT' AND active = TRUE) AS students,
	(SELECT COUNT(*) FROM users WHERE role = 'TEACHER' AND active = TRUE) AS teachers,
	(SELECT COUNT(*) FROM courses WHERE status = 'ACTIVE') AS active_courses,
	(SELECT COUNT(*) FROM courses WHERE status = 'PENDING') AS pending_courses,
	(SELECT COUNT(*) FROM enrollments WHERE status = 'ACTIVE') AS active_enrollments,
	(SELECT COUNT(*) FROM messages WHERE is_read = FALSE) AS unread_messages`
	var counts DashboardCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("dashboard counts: %w", err)
	}
	return &counts, nil
}
