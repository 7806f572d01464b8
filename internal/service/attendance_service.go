package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

const sheetDateLayout = "2006-01-02"

type attendanceStore interface {
	FindByCourseAndDate(ctx context.Context, courseID string, date time.Time) (*models.AttendanceRecord, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) error
	Delete(ctx context.Context, courseID string, date time.Time) error
}

// AttendanceEntryRequest marks one student on a sheet.
type AttendanceEntryRequest struct {
	StudentID string                  `json:"student_id" validate:"required"`
	Status    models.AttendanceStatus `json:"status" validate:"required"`
	Note      string                  `json:"note" validate:"max=500"`
}

// UpsertAttendanceRequest records the sheet for one course session.
type UpsertAttendanceRequest struct {
	Date    string                   `json:"date" validate:"required"`
	Entries []AttendanceEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

// AttendanceService manages per-session attendance sheets and computes
// student attendance rates against the configured requirement.
type AttendanceService struct {
	repo        attendanceStore
	courses     enrollmentCourseReader
	enrollments assignmentEnrollmentReader
	audits      auditWriter
	settings    settingsReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService creates an instance of AttendanceService.
func NewAttendanceService(repo attendanceStore, courses enrollmentCourseReader, enrollments assignmentEnrollmentReader, audits auditWriter, settings settingsReader, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AttendanceService{
		repo:        repo,
		courses:     courses,
		enrollments: enrollments,
		audits:      audits,
		settings:    settings,
		validator:   validate,
		logger:      logger,
	}
}

// Upsert records or replaces the attendance sheet for a course session. One
// sheet exists per course and date; recording the same date again replaces
// the entries.
func (s *AttendanceService) Upsert(ctx context.Context, courseID string, req UpsertAttendanceRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may record attendance")
	}

	date, err := parseSheetDate(req.Date)
	if err != nil {
		return nil, appErrors.Validation([]string{"Date must be formatted as YYYY-MM-DD"})
	}

	entries, details, err := s.checkEntries(ctx, courseID, req.Entries)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		return nil, appErrors.Validation(details)
	}

	record := &models.AttendanceRecord{
		CourseID:   courseID,
		Date:       date,
		Entries:    entries,
		RecordedBy: actorID(actor),
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"date": req.Date, "entries": len(entries)})
	s.emitAudit(ctx, actor, models.AuditActionAttendanceUpsert, record.ID, newPayload, meta)

	return record, nil
}

// ListByCourse returns all sheets recorded for a course. Reserved for the
// course teacher or an admin; students read their own summary instead.
func (s *AttendanceService) ListByCourse(ctx context.Context, courseID string, actor *models.JWTClaims) ([]models.AttendanceRecord, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may view attendance sheets")
	}

	records, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	if records == nil {
		records = []models.AttendanceRecord{}
	}
	return records, nil
}

// Delete removes the sheet for one course session.
func (s *AttendanceService) Delete(ctx context.Context, courseID, dateValue string, actor *models.JWTClaims, meta models.RequestMeta) error {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if !canManageCourse(actor, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may record attendance")
	}

	date, err := parseSheetDate(dateValue)
	if err != nil {
		return appErrors.Validation([]string{"Date must be formatted as YYYY-MM-DD"})
	}

	if err := s.repo.Delete(ctx, courseID, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attendance")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"date": dateValue})
	s.emitAudit(ctx, actor, models.AuditActionAttendanceDelete, courseID, oldPayload, meta)

	return nil
}

// StudentSummary computes one student's attendance rate in a course. Present
// and late both count as attended; excused sessions are left out of the
// denominator. Students may read their own summary, course staff anyone's.
func (s *AttendanceService) StudentSummary(ctx context.Context, courseID, studentID string, actor *models.JWTClaims) (*models.AttendanceSummary, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		if actor == nil || actor.Role != models.RoleStudent || actor.UserID != studentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own attendance")
		}
	}

	records, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}

	summary := &models.AttendanceSummary{
		StudentID:   studentID,
		CourseID:    courseID,
		RequiredPct: settingNumber(ctx, s.settings, KeyAttendanceRequiredPct, 75),
	}
	for _, record := range records {
		for _, entry := range record.Entries {
			if entry.StudentID != studentID {
				continue
			}
			switch entry.Status {
			case models.AttendancePresent, models.AttendanceLate:
				summary.Sessions++
				summary.Attended++
			case models.AttendanceAbsent:
				summary.Sessions++
				summary.Absent++
			case models.AttendanceExcused:
				summary.Excused++
			}
			break
		}
	}

	// No countable sessions means nothing was missed.
	summary.Percentage = 100
	if summary.Sessions > 0 {
		summary.Percentage = math.Round(float64(summary.Attended)/float64(summary.Sessions)*10000) / 100
	}
	summary.MeetsRequirement = summary.Percentage >= summary.RequiredPct

	return summary, nil
}

// checkEntries validates sheet entries and reports every problem at once.
func (s *AttendanceService) checkEntries(ctx context.Context, courseID string, reqs []AttendanceEntryRequest) (models.AttendanceEntryList, []string, error) {
	entries := make(models.AttendanceEntryList, 0, len(reqs))
	var details []string
	seen := make(map[string]bool, len(reqs))

	for _, req := range reqs {
		if !req.Status.Valid() {
			details = append(details, fmt.Sprintf("Status %q is not one of PRESENT, ABSENT, LATE, EXCUSED", req.Status))
			continue
		}
		if seen[req.StudentID] {
			details = append(details, fmt.Sprintf("Student %s appears more than once", req.StudentID))
			continue
		}
		seen[req.StudentID] = true

		if _, err := s.enrollments.FindByStudentAndCourse(ctx, req.StudentID, courseID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				details = append(details, fmt.Sprintf("Student %s is not enrolled in this course", req.StudentID))
				continue
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}

		entries = append(entries, models.AttendanceEntry{StudentID: req.StudentID, Status: req.Status, Note: req.Note})
	}
	return entries, details, nil
}

func parseSheetDate(value string) (time.Time, error) {
	date, err := time.Parse(sheetDateLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return date.UTC(), nil
}

func (s *AttendanceService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *AttendanceService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, payload []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "attendance",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record attendance audit log", zap.String("action", action), zap.Error(err))
	}
}
