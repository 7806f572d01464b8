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

type assignmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id string) error
}

type assignmentEnrollmentReader interface {
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
}

// CreateAssignmentRequest represents payload for creating an assignment.
type CreateAssignmentRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	DueDate     time.Time `json:"due_date" validate:"required"`
	MaxPoints   float64   `json:"max_points" validate:"required,gt=0"`
}

// UpdateAssignmentRequest represents a partial assignment update.
type UpdateAssignmentRequest struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	DueDate     *time.Time `json:"due_date"`
	MaxPoints   *float64   `json:"max_points" validate:"omitempty,gt=0"`
}

// AssignmentService handles coursework CRUD for teachers and read access
// for enrolled students.
type AssignmentService struct {
	repo        assignmentStore
	courses     enrollmentCourseReader
	enrollments assignmentEnrollmentReader
	audits      auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAssignmentService creates an instance of AssignmentService.
func NewAssignmentService(repo assignmentStore, courses enrollmentCourseReader, enrollments assignmentEnrollmentReader, audits auditWriter, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssignmentService{repo: repo, courses: courses, enrollments: enrollments, audits: audits, validator: validate, logger: logger}
}

// ListByCourse returns a course's assignments. Students must hold an active
// enrollment; teachers must own the course.
func (s *AssignmentService) ListByCourse(ctx context.Context, courseID string, actor *models.JWTClaims) ([]models.Assignment, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, course, actor); err != nil {
		return nil, err
	}

	assignments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	if assignments == nil {
		assignments = []models.Assignment{}
	}
	return assignments, nil
}

// Get returns a single assignment with the same visibility rules as listing.
func (s *AssignmentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error) {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, course, actor); err != nil {
		return nil, err
	}
	return assignment, nil
}

// Create adds an assignment to a course owned by the acting teacher.
func (s *AssignmentService) Create(ctx context.Context, courseID string, req CreateAssignmentRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create assignment payload")
	}

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may manage assignments")
	}

	assignment := &models.Assignment{
		ID:          uuid.NewString(),
		CourseID:    courseID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate.UTC(),
		MaxPoints:   req.MaxPoints,
	}

	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"title": assignment.Title, "due_date": assignment.DueDate, "max_points": assignment.MaxPoints})
	s.emitAudit(ctx, actor, models.AuditActionAssignCreate, assignment.ID, nil, newPayload, meta)

	return assignment, nil
}

// Update modifies an assignment.
func (s *AssignmentService) Update(ctx context.Context, id string, req UpdateAssignmentRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update assignment payload")
	}

	assignment, err := s.loadManaged(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"title": assignment.Title, "due_date": assignment.DueDate, "max_points": assignment.MaxPoints})

	if req.Title != nil {
		assignment.Title = *req.Title
	}
	if req.Description != nil {
		assignment.Description = *req.Description
	}
	if req.DueDate != nil {
		assignment.DueDate = req.DueDate.UTC()
	}
	if req.MaxPoints != nil {
		assignment.MaxPoints = *req.MaxPoints
	}

	if err := s.repo.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"title": assignment.Title, "due_date": assignment.DueDate, "max_points": assignment.MaxPoints})
	s.emitAudit(ctx, actor, models.AuditActionAssignUpdate, assignment.ID, oldPayload, newPayload, meta)

	return assignment, nil
}

// Delete removes an assignment and its submissions (cascade).
func (s *AssignmentService) Delete(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) error {
	assignment, err := s.loadManaged(ctx, id, actor)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"title": assignment.Title})
	s.emitAudit(ctx, actor, models.AuditActionAssignDelete, assignment.ID, oldPayload, nil, meta)

	return nil
}

func (s *AssignmentService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

func (s *AssignmentService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *AssignmentService) loadManaged(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error) {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may manage assignments")
	}
	return assignment, nil
}

// authorizeRead grants course staff full access and students access while
// actively enrolled.
func (s *AssignmentService) authorizeRead(ctx context.Context, course *models.Course, actor *models.JWTClaims) error {
	if canManageCourse(actor, course) {
		return nil
	}
	if actor == nil || actor.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}

	enrollment, err := s.enrollments.FindByStudentAndCourse(ctx, actor.UserID, course.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "student is not enrolled in this course")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return appErrors.Clone(appErrors.ErrForbidden, "student is not enrolled in this course")
	}
	return nil
}

func (s *AssignmentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "assignments",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record assignment audit log", zap.String("action", action), zap.Error(err))
	}
}
