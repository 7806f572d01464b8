package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type gradeStore interface {
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Grade, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Grade, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Grade, error)
	Upsert(ctx context.Context, grade *models.Grade) error
	CourseSummary(ctx context.Context, courseID string) (*models.GradeSummary, error)
}

// UpsertGradeRequest records a final course grade for one student.
type UpsertGradeRequest struct {
	StudentID string   `json:"student_id" validate:"required"`
	Score     *float64 `json:"score" validate:"required"`
	Comment   string   `json:"comment" validate:"max=1000"`
}

// gradeLetters orders the scale thresholds from best to worst. Scores below
// every configured threshold map to F.
var gradeLetters = [...]string{"A", "B", "C", "D"}

var defaultGradeScale = map[string]float64{"A": 90, "B": 80, "C": 70, "D": 60}

// GradeService manages final course grades. Numeric scores are mapped to
// letters through the grade_scale configuration thresholds.
type GradeService struct {
	repo          gradeStore
	courses       enrollmentCourseReader
	enrollments   assignmentEnrollmentReader
	audits        auditWriter
	settings      settingsReader
	notifications *NotificationService
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewGradeService creates an instance of GradeService.
func NewGradeService(repo gradeStore, courses enrollmentCourseReader, enrollments assignmentEnrollmentReader, audits auditWriter, settings settingsReader, notifications *NotificationService, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GradeService{
		repo:          repo,
		courses:       courses,
		enrollments:   enrollments,
		audits:        audits,
		settings:      settings,
		notifications: notifications,
		validator:     validate,
		logger:        logger,
	}
}

// Upsert records or replaces the course grade for one student. Only one
// grade exists per student and course.
func (s *GradeService) Upsert(ctx context.Context, courseID string, req UpsertGradeRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may record grades")
	}

	score := *req.Score
	if score < 0 || score > 100 {
		return nil, appErrors.Validation([]string{"Score must be between 0 and 100"})
	}

	enrollment, err := s.enrollments.FindByStudentAndCourse(ctx, req.StudentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student is not enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusDropped {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student has dropped this course")
	}

	var oldPayload []byte
	if existing, err := s.repo.FindByStudentAndCourse(ctx, req.StudentID, courseID); err == nil {
		oldPayload, _ = json.Marshal(map[string]interface{}{"score": existing.Score, "letter": existing.Letter})
	}

	grade := &models.Grade{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		CourseID:  courseID,
		Score:     score,
		Letter:    s.letterFor(ctx, score),
		GradedBy:  actorID(actor),
	}
	if req.Comment != "" {
		grade.Comment = &req.Comment
	}

	if err := s.repo.Upsert(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"score": grade.Score, "letter": grade.Letter})
	s.emitAudit(ctx, actor, models.AuditActionGradeUpsert, grade.ID, oldPayload, newPayload, meta)

	s.notifications.Dispatch(ctx, models.Notification{
		UserID: grade.StudentID,
		Type:   models.NotificationGrade,
		Title:  "Course grade posted",
		Body:   fmt.Sprintf("%s: %g (%s)", course.Title, grade.Score, grade.Letter),
	})

	return grade, nil
}

// Roster returns every grade recorded for a course. Reserved for the course
// teacher or an admin.
func (s *GradeService) Roster(ctx context.Context, courseID string, actor *models.JWTClaims) ([]models.Grade, error) {
	if err := s.requireCourseStaff(ctx, courseID, actor); err != nil {
		return nil, err
	}
	grades, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	if grades == nil {
		grades = []models.Grade{}
	}
	return grades, nil
}

// GetForStudent returns the acting student's grade in one course.
func (s *GradeService) GetForStudent(ctx context.Context, courseID string, actor *models.JWTClaims) (*models.Grade, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	grade, err := s.repo.FindByStudentAndCourse(ctx, actor.UserID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return grade, nil
}

// ListOwn returns all grades recorded for the acting student.
func (s *GradeService) ListOwn(ctx context.Context, actor *models.JWTClaims) ([]models.Grade, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	grades, err := s.repo.ListByStudent(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	if grades == nil {
		grades = []models.Grade{}
	}
	return grades, nil
}

// Summary returns aggregate grading statistics for a course.
func (s *GradeService) Summary(ctx context.Context, courseID string, actor *models.JWTClaims) (*models.GradeSummary, error) {
	if err := s.requireCourseStaff(ctx, courseID, actor); err != nil {
		return nil, err
	}
	summary, err := s.repo.CourseSummary(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize grades")
	}
	summary.CourseID = courseID
	return summary, nil
}

// letterFor maps a numeric score to a letter using the configured scale.
func (s *GradeService) letterFor(ctx context.Context, score float64) string {
	scale := map[string]float64{}
	if !settingObject(ctx, s.settings, KeyGradeScale, &scale) || len(scale) == 0 {
		scale = defaultGradeScale
	}
	for _, letter := range gradeLetters {
		if threshold, ok := scale[letter]; ok && score >= threshold {
			return letter
		}
	}
	return "F"
}

func (s *GradeService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *GradeService) requireCourseStaff(ctx context.Context, courseID string, actor *models.JWTClaims) error {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if !canManageCourse(actor, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may view the grade roster")
	}
	return nil
}

func (s *GradeService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "grades",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record grade audit log", zap.String("action", action), zap.Error(err))
	}
}
