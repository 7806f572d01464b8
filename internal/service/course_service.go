package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type courseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
	CountActiveEnrollments(ctx context.Context, courseID string) (int, error)
}

// CreateCourseRequest represents payload for creating a course. TeacherID is
// only honoured for admins; teachers always create courses they own.
type CreateCourseRequest struct {
	Code        string     `json:"code" validate:"required,max=20"`
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=2000"`
	TeacherID   string     `json:"teacher_id"`
	Capacity    int        `json:"capacity" validate:"omitempty,min=1"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// UpdateCourseRequest represents a partial course update. Status changes are
// reserved for admins.
type UpdateCourseRequest struct {
	Title       *string              `json:"title" validate:"omitempty,max=200"`
	Description *string              `json:"description" validate:"omitempty,max=2000"`
	Capacity    *int                 `json:"capacity" validate:"omitempty,min=1"`
	Status      *models.CourseStatus `json:"status" validate:"omitempty,oneof=PENDING ACTIVE ARCHIVED"`
	StartDate   *time.Time           `json:"start_date"`
	EndDate     *time.Time           `json:"end_date"`
}

// CourseService handles the course catalogue workflows.
type CourseService struct {
	repo      courseStore
	audits    auditWriter
	settings  settingsReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService creates an instance of CourseService.
func NewCourseService(repo courseStore, audits auditWriter, settings settingsReader, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, audits: audits, settings: settings, validator: validate, logger: logger}
}

// List returns paginated courses and pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create adds a course. Capacity falls back to the configured maximum and
// the initial status depends on the approval toggle.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create course payload")
	}

	teacherID := req.TeacherID
	if actor != nil && actor.Role == models.RoleTeacher {
		teacherID = actor.UserID
	}
	if teacherID == "" {
		return nil, appErrors.Validation([]string{"Teacher is required"})
	}

	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, appErrors.Validation([]string{"End date must be after start date"})
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = int(settingNumber(ctx, s.settings, KeyMaxCourseCapacity, 50))
	}

	status := models.CourseStatusActive
	if settingBool(ctx, s.settings, KeyCourseApprovalRequired, false) {
		status = models.CourseStatusPending
	}

	course := &models.Course{
		ID:          uuid.NewString(),
		Code:        req.Code,
		Title:       req.Title,
		Description: req.Description,
		TeacherID:   teacherID,
		Capacity:    capacity,
		Status:      status,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}

	if err := s.repo.Create(ctx, course); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"code": course.Code, "status": course.Status, "capacity": course.Capacity})
	s.emitAudit(ctx, actor, models.AuditActionCourseCreate, course.ID, nil, newPayload, meta)

	return course, nil
}

// Update modifies a course. Only the owning teacher or an admin may update;
// status changes are admin-only.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update course payload")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may modify this course")
	}
	if req.Status != nil && (actor == nil || actor.Role != models.RoleAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may change the course status")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"title": course.Title, "capacity": course.Capacity, "status": course.Status})

	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Capacity != nil {
		course.Capacity = *req.Capacity
	}
	if req.Status != nil {
		course.Status = *req.Status
	}
	if req.StartDate != nil {
		course.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		course.EndDate = req.EndDate
	}
	if course.StartDate != nil && course.EndDate != nil && course.EndDate.Before(*course.StartDate) {
		return nil, appErrors.Validation([]string{"End date must be after start date"})
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"title": course.Title, "capacity": course.Capacity, "status": course.Status})
	s.emitAudit(ctx, actor, models.AuditActionCourseUpdate, course.ID, oldPayload, newPayload, meta)

	return course, nil
}

// Approve transitions a pending course to active.
func (s *CourseService) Approve(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if course.Status != models.CourseStatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course is not pending approval")
	}

	course.Status = models.CourseStatusActive
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve course")
	}

	s.emitAudit(ctx, actor, models.AuditActionCourseApprove, course.ID, nil, []byte(`{"status":"ACTIVE"}`), meta)

	return course, nil
}

// Delete removes a course. Courses with active enrollments cannot be removed.
func (s *CourseService) Delete(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) error {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	active, err := s.repo.CountActiveEnrollments(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	if active > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "course has active enrollments and cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"code": course.Code, "title": course.Title})
	s.emitAudit(ctx, actor, models.AuditActionCourseDelete, course.ID, oldPayload, nil, meta)

	return nil
}

func canManageCourse(actor *models.JWTClaims, course *models.Course) bool {
	if actor == nil {
		return false
	}
	if actor.Role == models.RoleAdmin {
		return true
	}
	return actor.Role == models.RoleTeacher && course.TeacherID == actor.UserID
}

func (s *CourseService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "courses",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record course audit log", zap.String("action", action), zap.Error(err))
	}
}
