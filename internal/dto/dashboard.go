package dto

import (
	"time"

	"github.com/edumanage/edumanage-api/internal/models"
)

// DashboardResponse captures the aggregated admin dashboard payload.
type DashboardResponse struct {
	Students            int                 `json:"students"`
	Teachers            int                 `json:"teachers"`
	ActiveCourses       int                 `json:"active_courses"`
	PendingCourses      int                 `json:"pending_courses"`
	ActiveEnrollments   int                 `json:"active_enrollments"`
	UnreadMessages      int                 `json:"unread_messages"`
	RecentRegistrations []models.UserInfo   `json:"recent_registrations"`
	RecentEnrollments   []models.Enrollment `json:"recent_enrollments"`
	GeneratedAt         time.Time           `json:"generated_at"`
}
