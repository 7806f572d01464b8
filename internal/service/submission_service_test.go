package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/jobs"
)

type submissionStoreStub struct {
	submissions map[string]*models.Submission
}

func newSubmissionStoreStub(submissions ...*models.Submission) *submissionStoreStub {
	s := &submissionStoreStub{submissions: make(map[string]*models.Submission)}
	for _, sub := range submissions {
		s.submissions[sub.ID] = sub
	}
	return s
}

func (m *submissionStoreStub) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	sub, ok := m.submissions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *sub
	return &clone, nil
}

func (m *submissionStoreStub) FindByStudentAndAssignment(ctx context.Context, assignmentID, studentID string) (*models.Submission, error) {
	for _, sub := range m.submissions {
		if sub.AssignmentID == assignmentID && sub.StudentID == studentID {
			clone := *sub
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *submissionStoreStub) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	var out []models.Submission
	for _, sub := range m.submissions {
		if sub.AssignmentID == assignmentID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *submissionStoreStub) Create(ctx context.Context, submission *models.Submission) error {
	for _, sub := range m.submissions {
		if sub.AssignmentID == submission.AssignmentID && sub.StudentID == submission.StudentID {
			return appErrors.Clone(appErrors.ErrConflict, "submission already exists for this assignment")
		}
	}
	m.submissions[submission.ID] = submission
	return nil
}

func (m *submissionStoreStub) Resubmit(ctx context.Context, id, content string, late bool, submittedAt time.Time) error {
	sub, ok := m.submissions[id]
	if !ok {
		return sql.ErrNoRows
	}
	sub.Content = content
	sub.Attempt++
	sub.Late = late
	sub.SubmittedAt = submittedAt
	sub.Score = nil
	sub.PenaltyPct = nil
	sub.Feedback = nil
	sub.GradedBy = nil
	sub.GradedAt = nil
	return nil
}

func (m *submissionStoreStub) Grade(ctx context.Context, id string, score float64, penaltyPct *float64, feedback, gradedBy string) error {
	sub, ok := m.submissions[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	sub.Score = &score
	sub.PenaltyPct = penaltyPct
	sub.Feedback = &feedback
	sub.GradedBy = &gradedBy
	sub.GradedAt = &now
	return nil
}

type submissionFixture struct {
	svc           *SubmissionService
	repo          *submissionStoreStub
	notifications *notificationStoreStub
	audits        *auditWriterStub
}

func newSubmissionFixture(t *testing.T, settings *settingsStub, dueIn time.Duration, existing ...*models.Submission) *submissionFixture {
	t.Helper()
	courses := newCourseStoreStub(&models.Course{ID: "c1", Title: "Intro to Go", TeacherID: "t1", Status: models.CourseStatusActive})
	assignments := newAssignmentStoreStub(&models.Assignment{
		ID: "a1", CourseID: "c1", Title: "Homework 1",
		DueDate: time.Now().UTC().Add(dueIn), MaxPoints: 100,
	})
	enrollments := newEnrollmentStoreStub(&models.Enrollment{ID: "e1", CourseID: "c1", StudentID: "s1", Status: models.EnrollmentStatusActive})
	repo := newSubmissionStoreStub(existing...)
	store := &notificationStoreStub{}
	audits := &auditWriterStub{}
	svc := NewSubmissionService(repo, assignments, courses, enrollments, audits, settings,
		NewNotificationService(store, settings, nil, jobs.Options{}), nil, nil)
	return &submissionFixture{svc: svc, repo: repo, notifications: store, audits: audits}
}

func TestSubmissionServiceSubmitFirstAttempt(t *testing.T) {
	fx := newSubmissionFixture(t, &settingsStub{}, 24*time.Hour)

	submission, err := fx.svc.Submit(context.Background(), "a1", SubmitRequest{Content: "answer"}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, submission.Attempt)
	assert.False(t, submission.Late)
	assert.Nil(t, submission.Score)
	require.Len(t, fx.audits.logs, 1)
	assert.Equal(t, models.AuditActionSubmit, fx.audits.logs[0].Action)
}

func TestSubmissionServiceSubmitRequiresEnrollment(t *testing.T) {
	fx := newSubmissionFixture(t, &settingsStub{}, 24*time.Hour)

	_, err := fx.svc.Submit(context.Background(), "a1", SubmitRequest{Content: "answer"}, studentClaims("outsider", "Olle"), models.RequestMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "not enrolled")
}

func TestSubmissionServiceResubmitClearsGrade(t *testing.T) {
	score, penalty := 88.0, 0.0
	graded := &models.Submission{
		ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v1",
		Attempt: 1, Score: &score, PenaltyPct: &penalty,
	}
	fx := newSubmissionFixture(t, &settingsStub{}, 24*time.Hour, graded)

	submission, err := fx.svc.Submit(context.Background(), "a1", SubmitRequest{Content: "v2"}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, submission.Attempt)
	assert.Equal(t, "v2", submission.Content)
	assert.Nil(t, submission.Score)
	assert.Nil(t, submission.PenaltyPct)
	assert.Nil(t, fx.repo.submissions["sub1"].GradedBy)
}

func TestSubmissionServiceAttemptLimit(t *testing.T) {
	settings := &settingsStub{numbers: map[string]float64{KeyMaxSubmissionAttempts: 2}}
	existing := &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v2", Attempt: 2}
	fx := newSubmissionFixture(t, settings, 24*time.Hour, existing)

	_, err := fx.svc.Submit(context.Background(), "a1", SubmitRequest{Content: "v3"}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Equal(t, "maximum of 2 submission attempts reached", appErr.Message)
	assert.Equal(t, 2, fx.repo.submissions["sub1"].Attempt)
}

func TestSubmissionServiceLateFlag(t *testing.T) {
	fx := newSubmissionFixture(t, &settingsStub{}, -time.Hour)

	submission, err := fx.svc.Submit(context.Background(), "a1", SubmitRequest{Content: "late answer"}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, submission.Late)
}

func TestSubmissionServiceGradeAppliesLatePenalty(t *testing.T) {
	late := &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v1", Attempt: 1, Late: true}
	fx := newSubmissionFixture(t, &settingsStub{}, -time.Hour, late)

	submission, err := fx.svc.Grade(context.Background(), "sub1", GradeSubmissionRequest{Score: fptr(80), Feedback: "solid"}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, submission.Score)
	assert.Equal(t, 72.0, *submission.Score)
	require.NotNil(t, submission.PenaltyPct)
	assert.Equal(t, 10.0, *submission.PenaltyPct)

	require.Equal(t, 1, fx.notifications.count())
}

func TestSubmissionServiceGradeConfiguredPenalty(t *testing.T) {
	settings := &settingsStub{numbers: map[string]float64{KeyAssignmentLatePenalty: 25}}
	late := &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v1", Attempt: 1, Late: true}
	fx := newSubmissionFixture(t, settings, -time.Hour, late)

	submission, err := fx.svc.Grade(context.Background(), "sub1", GradeSubmissionRequest{Score: fptr(80)}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 60.0, *submission.Score)
	assert.Equal(t, 25.0, *submission.PenaltyPct)
}

func TestSubmissionServiceGradeOnTimeKeepsScore(t *testing.T) {
	onTime := &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v1", Attempt: 1}
	fx := newSubmissionFixture(t, &settingsStub{}, 24*time.Hour, onTime)

	submission, err := fx.svc.Grade(context.Background(), "sub1", GradeSubmissionRequest{Score: fptr(80)}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 80.0, *submission.Score)
	assert.Nil(t, submission.PenaltyPct)
}

func TestSubmissionServiceGradeBounds(t *testing.T) {
	onTime := &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v1", Attempt: 1}
	fx := newSubmissionFixture(t, &settingsStub{}, 24*time.Hour, onTime)

	_, err := fx.svc.Grade(context.Background(), "sub1", GradeSubmissionRequest{Score: fptr(120)}, teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "Score must be between 0 and 100")
}

func TestSubmissionServiceGradeAuthorization(t *testing.T) {
	onTime := &models.Submission{ID: "sub1", AssignmentID: "a1", StudentID: "s1", Content: "v1", Attempt: 1}
	fx := newSubmissionFixture(t, &settingsStub{}, 24*time.Hour, onTime)

	_, err := fx.svc.Grade(context.Background(), "sub1", GradeSubmissionRequest{Score: fptr(50)}, teacherClaims("intruder"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSubmissionServiceAutoGrade(t *testing.T) {
	settings := &settingsStub{bools: map[string]bool{KeyAssignmentAutoGrade: true}}
	fx := newSubmissionFixture(t, settings, 24*time.Hour)

	submission, err := fx.svc.Submit(context.Background(), "a1", SubmitRequest{Content: "answer"}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, submission.Score)
	assert.Equal(t, 100.0, *submission.Score)
	require.NotNil(t, submission.GradedBy)
	assert.Equal(t, "system", *submission.GradedBy)
}
