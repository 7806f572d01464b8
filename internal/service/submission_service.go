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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type submissionStore interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindByStudentAndAssignment(ctx context.Context, assignmentID, studentID string) (*models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Resubmit(ctx context.Context, id, content string, late bool, submittedAt time.Time) error
	Grade(ctx context.Context, id string, score float64, penaltyPct *float64, feedback, gradedBy string) error
}

type submissionAssignmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

// SubmitRequest carries a student's answer content.
type SubmitRequest struct {
	Content string `json:"content" validate:"required"`
}

// GradeSubmissionRequest carries a teacher's grading for one submission.
type GradeSubmissionRequest struct {
	Score    *float64 `json:"score" validate:"required"`
	Feedback string   `json:"feedback" validate:"max=2000"`
}

// SubmissionService handles assignment submissions: student submits and
// resubmits up to the configured attempt limit, teachers grade with the
// configured late penalty applied.
type SubmissionService struct {
	repo          submissionStore
	assignments   submissionAssignmentReader
	courses       enrollmentCourseReader
	enrollments   assignmentEnrollmentReader
	audits        auditWriter
	settings      settingsReader
	notifications *NotificationService
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewSubmissionService creates an instance of SubmissionService.
func NewSubmissionService(repo submissionStore, assignments submissionAssignmentReader, courses enrollmentCourseReader, enrollments assignmentEnrollmentReader, audits auditWriter, settings settingsReader, notifications *NotificationService, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SubmissionService{
		repo:          repo,
		assignments:   assignments,
		courses:       courses,
		enrollments:   enrollments,
		audits:        audits,
		settings:      settings,
		notifications: notifications,
		validator:     validate,
		logger:        logger,
	}
}

// Submit stores the acting student's answer. A later submission for the
// same assignment replaces the content and bumps the attempt counter, up to
// the configured maximum. Submissions after the due date are flagged late.
func (s *SubmissionService) Submit(ctx context.Context, assignmentID string, req SubmitRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload")
	}
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	if err := s.requireActiveEnrollment(ctx, actor.UserID, assignment.CourseID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	late := now.After(assignment.DueDate)

	existing, err := s.repo.FindByStudentAndAssignment(ctx, assignmentID, actor.UserID)
	switch {
	case err == nil:
		maxAttempts := int(settingNumber(ctx, s.settings, KeyMaxSubmissionAttempts, 3))
		if existing.Attempt >= maxAttempts {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("maximum of %d submission attempts reached", maxAttempts))
		}
		if err := s.repo.Resubmit(ctx, existing.ID, req.Content, late, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update submission")
		}
		existing.Content = req.Content
		existing.Attempt++
		existing.Late = late
		existing.SubmittedAt = now
		existing.Score = nil
		existing.PenaltyPct = nil
		existing.Feedback = nil
		existing.GradedBy = nil
		existing.GradedAt = nil
	case errors.Is(err, sql.ErrNoRows):
		existing = &models.Submission{
			ID:           uuid.NewString(),
			AssignmentID: assignmentID,
			StudentID:    actor.UserID,
			Content:      req.Content,
			Attempt:      1,
			Late:         late,
			SubmittedAt:  now,
		}
		if err := s.repo.Create(ctx, existing); err != nil {
			if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
				return nil, appErr
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create submission")
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"assignment_id": assignmentID, "attempt": existing.Attempt, "late": existing.Late})
	s.emitAudit(ctx, actor, models.AuditActionSubmit, existing.ID, newPayload, meta)

	if settingBool(ctx, s.settings, KeyAssignmentAutoGrade, false) {
		if err := s.applyGrade(ctx, existing, assignment, assignment.MaxPoints, "Auto-graded", "system"); err != nil {
			s.logger.Warn("auto-grade failed", zap.String("submission_id", existing.ID), zap.Error(err))
		}
	}

	return existing, nil
}

// ListByAssignment returns every submission for an assignment. Reserved for
// the course teacher or an admin.
func (s *SubmissionService) ListByAssignment(ctx context.Context, assignmentID string, actor *models.JWTClaims) ([]models.Submission, error) {
	assignment, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCourseStaff(ctx, assignment.CourseID, actor); err != nil {
		return nil, err
	}

	submissions, err := s.repo.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	if submissions == nil {
		submissions = []models.Submission{}
	}
	return submissions, nil
}

// GetOwn returns the acting student's submission for an assignment.
func (s *SubmissionService) GetOwn(ctx context.Context, assignmentID string, actor *models.JWTClaims) (*models.Submission, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	submission, err := s.repo.FindByStudentAndAssignment(ctx, assignmentID, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	return submission, nil
}

// Grade records a score on a submission. Scores run 0..max points; the
// configured late penalty is deducted when the submission was late.
func (s *SubmissionService) Grade(ctx context.Context, submissionID string, req GradeSubmissionRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	submission, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}

	assignment, err := s.loadAssignment(ctx, submission.AssignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCourseStaff(ctx, assignment.CourseID, actor); err != nil {
		return nil, err
	}

	score := *req.Score
	if score < 0 || score > assignment.MaxPoints {
		return nil, appErrors.Validation([]string{fmt.Sprintf("Score must be between 0 and %g", assignment.MaxPoints)})
	}

	if err := s.applyGrade(ctx, submission, assignment, score, req.Feedback, actorID(actor)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade submission")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"score": submission.Score, "penalty_pct": submission.PenaltyPct})
	s.emitAudit(ctx, actor, models.AuditActionSubmitGrade, submission.ID, newPayload, meta)

	return submission, nil
}

// applyGrade persists the (possibly penalised) score and mutates the
// submission in place to reflect the stored state.
func (s *SubmissionService) applyGrade(ctx context.Context, submission *models.Submission, assignment *models.Assignment, score float64, feedback, gradedBy string) error {
	var penaltyPct *float64
	final := score
	if submission.Late {
		penalty := settingNumber(ctx, s.settings, KeyAssignmentLatePenalty, 10)
		if penalty < 0 {
			penalty = 0
		}
		if penalty > 100 {
			penalty = 100
		}
		final = math.Round(score*(100-penalty)) / 100
		penaltyPct = &penalty
	}

	if err := s.repo.Grade(ctx, submission.ID, final, penaltyPct, feedback, gradedBy); err != nil {
		return err
	}

	now := time.Now().UTC()
	submission.Score = &final
	submission.PenaltyPct = penaltyPct
	submission.Feedback = &feedback
	submission.GradedBy = &gradedBy
	submission.GradedAt = &now

	s.notifications.Dispatch(ctx, models.Notification{
		UserID: submission.StudentID,
		Type:   models.NotificationGrade,
		Title:  "Submission graded",
		Body:   fmt.Sprintf("Your submission for %s was graded: %g/%g", assignment.Title, final, assignment.MaxPoints),
	})

	return nil
}

func (s *SubmissionService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

func (s *SubmissionService) requireCourseStaff(ctx context.Context, courseID string, actor *models.JWTClaims) error {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may grade submissions")
	}
	return nil
}

func (s *SubmissionService) requireActiveEnrollment(ctx context.Context, studentID, courseID string) error {
	enrollment, err := s.enrollments.FindByStudentAndCourse(ctx, studentID, courseID)
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

func (s *SubmissionService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, newValues []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "submissions",
		ResourceID: &resourceID,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record submission audit log", zap.String("action", action), zap.Error(err))
	}
}
