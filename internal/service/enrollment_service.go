package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type enrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) error
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollmentService handles course enrollment workflows.
type EnrollmentService struct {
	repo          enrollmentStore
	courses       enrollmentCourseReader
	audits        auditWriter
	settings      settingsReader
	notifications *NotificationService
	logger        *zap.Logger
}

// NewEnrollmentService creates an instance of EnrollmentService.
func NewEnrollmentService(repo enrollmentStore, courses enrollmentCourseReader, audits auditWriter, settings settingsReader, notifications *NotificationService, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, audits: audits, settings: settings, notifications: notifications, logger: logger}
}

// Enroll registers the acting student in a course. Enrollment fails while
// the global gate is closed, when the course is not active or full, and on
// duplicate student+course pairs.
func (s *EnrollmentService) Enroll(ctx context.Context, courseID string, actor *models.JWTClaims, meta models.RequestMeta) (*models.Enrollment, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	if !settingBool(ctx, s.settings, KeyEnrollmentOpen, true) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment is currently closed")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if course.Status != models.CourseStatusActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course is not open for enrollment")
	}
	if course.Capacity > 0 && course.EnrolledCount >= course.Capacity {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course is at capacity")
	}

	if _, err := s.repo.FindByStudentAndCourse(ctx, actor.UserID, courseID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already enrolled in this course")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	enrollment := &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  actor.UserID,
		CourseID:   courseID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, enrollment); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"course_id": courseID, "student_id": actor.UserID})
	s.emitAudit(ctx, actor, models.AuditActionEnroll, enrollment.ID, newPayload, meta)

	s.notifications.Dispatch(ctx, models.Notification{
		UserID: course.TeacherID,
		Type:   models.NotificationEnrollment,
		Title:  "New enrollment",
		Body:   fmt.Sprintf("%s enrolled in %s", actor.FullName, course.Title),
	})

	return enrollment, nil
}

// ListByCourse returns enrollments for a course. Teachers only see courses
// they own.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may list enrollments")
	}

	filter.CourseID = courseID
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ListOwn returns the acting student's enrollments.
func (s *EnrollmentService) ListOwn(ctx context.Context, actor *models.JWTClaims, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	if actor == nil || actor.UserID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	filter.StudentID = actor.UserID
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Drop transitions an active enrollment to dropped. Students may drop their
// own enrollment; admins may drop any.
func (s *EnrollmentService) Drop(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor == nil || (actor.Role != models.RoleAdmin && enrollment.StudentID != actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment does not belong to user")
	}

	return s.transition(ctx, enrollment, models.EnrollmentStatusDropped, models.AuditActionEnrollDrop, actor, meta)
}

// Complete marks an active enrollment as completed. Reserved for the course
// teacher or an admin.
func (s *EnrollmentService) Complete(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) (*models.Enrollment, error) {
	enrollment, err := s.loadEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may complete enrollments")
	}

	return s.transition(ctx, enrollment, models.EnrollmentStatusCompleted, models.AuditActionEnrollComplete, actor, meta)
}

func (s *EnrollmentService) loadEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EnrollmentService) transition(ctx context.Context, enrollment *models.Enrollment, status models.EnrollmentStatus, action string, actor *models.JWTClaims, meta models.RequestMeta) (*models.Enrollment, error) {
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is not active")
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, enrollment.ID, status, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	enrollment.Status = status
	switch status {
	case models.EnrollmentStatusDropped:
		enrollment.DroppedAt = &now
	case models.EnrollmentStatusCompleted:
		enrollment.CompletedAt = &now
	}

	payload, _ := json.Marshal(map[string]interface{}{"status": status})
	s.emitAudit(ctx, actor, action, enrollment.ID, payload, meta)

	return enrollment, nil
}

func (s *EnrollmentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, newValues []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "enrollments",
		ResourceID: &resourceID,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record enrollment audit log", zap.String("action", action), zap.Error(err))
	}
}
