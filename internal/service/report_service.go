package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/pkg/export"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

// ReportFormat selects the rendering for downloadable reports.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ParseReportFormat maps a query value onto a known format. CSV is the default.
func ParseReportFormat(raw string) (ReportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ReportFormatCSV):
		return ReportFormatCSV, nil
	case string(ReportFormatPDF):
		return ReportFormatPDF, nil
	default:
		return "", appErrors.Validation([]string{"format: must be csv or pdf"})
	}
}

// ContentType returns the MIME type used when streaming the report.
func (f ReportFormat) ContentType() string {
	if f == ReportFormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// ReportFile is a rendered report ready to stream to the client.
type ReportFile struct {
	FileName    string
	ContentType string
	Payload     []byte
}

// Satisfaction score boundaries.
const (
	satisfactionExcellent = 85.0
	satisfactionGood      = 70.0
	satisfactionFair      = 50.0
)

type satisfactionWeights struct {
	Grade      float64 `json:"grade"`
	Attendance float64 `json:"attendance"`
}

type reportGradeSource interface {
	Roster(ctx context.Context, courseID string, actor *models.JWTClaims) ([]models.Grade, error)
}

type reportAttendanceSource interface {
	ListByCourse(ctx context.Context, courseID string, actor *models.JWTClaims) ([]models.AttendanceRecord, error)
}

type reportCourseSource interface {
	Get(ctx context.Context, id string) (*models.Course, error)
}

type gradeAverageSource interface {
	AverageByCourse(ctx context.Context) (map[string]float64, error)
}

type attendanceAverageSource interface {
	AverageAttendanceByCourse(ctx context.Context) (map[string]float64, error)
}

type reportSettings interface {
	Object(ctx context.Context, key string, dest interface{}) bool
}

type csvReportRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfReportRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
}

// ReportService renders course-level reports and the satisfaction heuristic.
type ReportService struct {
	grades        reportGradeSource
	attendance    reportAttendanceSource
	courses       reportCourseSource
	gradeAvgs     gradeAverageSource
	attendanceAvg attendanceAverageSource
	settings      reportSettings
	csv           csvReportRenderer
	pdf           pdfReportRenderer
	logger        *zap.Logger
	now           func() time.Time
}

// NewReportService constructs a report service. Nil renderers fall back to
// the default exporters.
func NewReportService(grades reportGradeSource, attendance reportAttendanceSource, courses reportCourseSource, gradeAvgs gradeAverageSource, attendanceAvg attendanceAverageSource, settings reportSettings, csv csvReportRenderer, pdf pdfReportRenderer, logger *zap.Logger) *ReportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		grades:        grades,
		attendance:    attendance,
		courses:       courses,
		gradeAvgs:     gradeAvgs,
		attendanceAvg: attendanceAvg,
		settings:      settings,
		csv:           csv,
		pdf:           pdf,
		logger:        logger,
		now:           time.Now,
	}
}

// CourseGrades renders the grade roster of a course. Authorization follows
// the roster rules: admins and the owning teacher only.
func (s *ReportService) CourseGrades(ctx context.Context, courseID string, format ReportFormat, actor *models.JWTClaims) (*ReportFile, error) {
	course, err := s.courses.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	grades, err := s.grades.Roster(ctx, courseID, actor)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(grades))
	for _, grade := range grades {
		rows = append(rows, map[string]string{
			"Student ID": grade.StudentID,
			"Student":    deref(grade.StudentName),
			"Score":      fmt.Sprintf("%.2f", grade.Score),
			"Letter":     grade.Letter,
			"Comment":    deref(grade.Comment),
			"Graded At":  grade.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student ID", "Student", "Score", "Letter", "Comment", "Graded At"},
		Rows:    rows,
	}

	title := fmt.Sprintf("Grade Report %s", course.Code)
	return s.render(dataset, format, title, course.Title, "grades", course.Code)
}

// CourseAttendance renders one row per recorded session with per-status
// counts. Present and late entries count as attended; excused entries are
// excluded from the denominator.
func (s *ReportService) CourseAttendance(ctx context.Context, courseID string, format ReportFormat, actor *models.JWTClaims) (*ReportFile, error) {
	course, err := s.courses.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	records, err := s.attendance.ListByCourse(ctx, courseID, actor)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		var present, absent, late, excused int
		for _, entry := range record.Entries {
			switch entry.Status {
			case models.AttendancePresent:
				present++
			case models.AttendanceAbsent:
				absent++
			case models.AttendanceLate:
				late++
			case models.AttendanceExcused:
				excused++
			}
		}
		countable := present + late + absent
		percentage := 0.0
		if countable > 0 {
			percentage = float64(present+late) / float64(countable) * 100
		}
		rows = append(rows, map[string]string{
			"Date":           record.Date.UTC().Format("2006-01-02"),
			"Present":        fmt.Sprintf("%d", present),
			"Late":           fmt.Sprintf("%d", late),
			"Absent":         fmt.Sprintf("%d", absent),
			"Excused":        fmt.Sprintf("%d", excused),
			"Attendance (%)": fmt.Sprintf("%.2f", percentage),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Present", "Late", "Absent", "Excused", "Attendance (%)"},
		Rows:    rows,
	}

	title := fmt.Sprintf("Attendance Report %s", course.Code)
	return s.render(dataset, format, title, course.Title, "attendance", course.Code)
}

// CourseSatisfaction blends the course's average grade and attendance rate
// into a 0-100 score using the configured weights.
func (s *ReportService) CourseSatisfaction(ctx context.Context, courseID string, actor *models.JWTClaims) (*dto.CourseSatisfactionResponse, error) {
	course, err := s.courses.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may view satisfaction")
	}

	gradeAverages, err := s.gradeAvgs.AverageByCourse(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate grades")
	}
	attendanceAverages, err := s.attendanceAvg.AverageAttendanceByCourse(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate attendance")
	}

	avgGrade := gradeAverages[courseID]
	attendanceRate := attendanceAverages[courseID]

	weights := s.loadWeights(ctx)
	score := (weights.Grade*(avgGrade/100) + weights.Attendance*attendanceRate) * 100

	return &dto.CourseSatisfactionResponse{
		CourseID:          course.ID,
		CourseTitle:       course.Title,
		AverageGrade:      avgGrade,
		AverageAttendance: attendanceRate * 100,
		Score:             score,
		Rating:            classifySatisfaction(score),
	}, nil
}

func (s *ReportService) render(dataset export.Dataset, format ReportFormat, title, subtitle, kind, courseCode string) (*ReportFile, error) {
	var payload []byte
	var err error
	switch format {
	case ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title, subtitle)
	case ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	default:
		return nil, appErrors.Validation([]string{"format: must be csv or pdf"})
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	timestamp := s.now().UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%s.%s", kind, sanitizeFilename(courseCode), timestamp, format)
	return &ReportFile{FileName: filename, ContentType: format.ContentType(), Payload: payload}, nil
}

func (s *ReportService) loadWeights(ctx context.Context) satisfactionWeights {
	weights := satisfactionWeights{Grade: 0.6, Attendance: 0.4}
	if s.settings != nil {
		var configured satisfactionWeights
		if s.settings.Object(ctx, KeySatisfactionWeights, &configured) && configured.Grade+configured.Attendance > 0 {
			weights = configured
		}
	}
	if sum := weights.Grade + weights.Attendance; sum != 1 && sum > 0 {
		weights.Grade /= sum
		weights.Attendance /= sum
	}
	return weights
}

func classifySatisfaction(score float64) string {
	switch {
	case score >= satisfactionExcellent:
		return "excellent"
	case score >= satisfactionGood:
		return "good"
	case score >= satisfactionFair:
		return "fair"
	default:
		return "poor"
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
