package dto

// CourseSatisfactionResponse exposes the satisfaction heuristic for a course.
type CourseSatisfactionResponse struct {
	CourseID          string  `json:"course_id"`
	CourseTitle       string  `json:"course_title"`
	AverageGrade      float64 `json:"average_grade"`
	AverageAttendance float64 `json:"average_attendance"`
	Score             float64 `json:"score"`
	Rating            string  `json:"rating"`
}
