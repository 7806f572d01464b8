package models

import "time"

// DashboardSummary aggregates platform-wide counts for the admin dashboard.
type DashboardSummary struct {
	TotalUsers          int          `json:"total_users"`
	TotalStudents       int          `json:"total_students"`
	TotalTeachers       int          `json:"total_teachers"`
	TotalCourses        int          `json:"total_courses"`
	ActiveCourses       int          `json:"active_courses"`
	ActiveEnrollments   int          `json:"active_enrollments"`
	RecentRegistrations []UserInfo   `json:"recent_registrations"`
	RecentEnrollments   []Enrollment `json:"recent_enrollments"`
	GeneratedAt         time.Time    `json:"generated_at"`
}

// CourseSatisfaction is a heuristic quality score for one course: a weighted
// blend of the normalized average grade and the average attendance rate.
type CourseSatisfaction struct {
	CourseID          string  `json:"course_id"`
	CourseTitle       string  `json:"course_title"`
	AverageGrade      float64 `json:"average_grade"`
	AverageAttendance float64 `json:"average_attendance"`
	Score             float64 `json:"score"`
	Rating            string  `json:"rating"`
}
