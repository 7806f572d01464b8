package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/jobs"
)

type gradeStoreStub struct {
	grades map[string]*models.Grade
}

func gradeKey(studentID, courseID string) string {
	return studentID + "/" + courseID
}

func newGradeStoreStub(grades ...*models.Grade) *gradeStoreStub {
	s := &gradeStoreStub{grades: make(map[string]*models.Grade)}
	for _, g := range grades {
		s.grades[gradeKey(g.StudentID, g.CourseID)] = g
	}
	return s
}

func (m *gradeStoreStub) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Grade, error) {
	g, ok := m.grades[gradeKey(studentID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *g
	return &clone, nil
}

func (m *gradeStoreStub) ListByCourse(ctx context.Context, courseID string) ([]models.Grade, error) {
	var out []models.Grade
	for _, g := range m.grades {
		if g.CourseID == courseID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *gradeStoreStub) ListByStudent(ctx context.Context, studentID string) ([]models.Grade, error) {
	var out []models.Grade
	for _, g := range m.grades {
		if g.StudentID == studentID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *gradeStoreStub) Upsert(ctx context.Context, grade *models.Grade) error {
	m.grades[gradeKey(grade.StudentID, grade.CourseID)] = grade
	return nil
}

func (m *gradeStoreStub) CourseSummary(ctx context.Context, courseID string) (*models.GradeSummary, error) {
	summary := &models.GradeSummary{}
	for _, g := range m.grades {
		if g.CourseID != courseID {
			continue
		}
		summary.GradedCount++
		summary.AverageScore += g.Score
	}
	if summary.GradedCount > 0 {
		summary.AverageScore /= float64(summary.GradedCount)
	}
	return summary, nil
}

type gradeFixture struct {
	svc           *GradeService
	repo          *gradeStoreStub
	notifications *notificationStoreStub
	audits        *auditWriterStub
}

func newGradeFixture(t *testing.T, settings *settingsStub, grades ...*models.Grade) *gradeFixture {
	t.Helper()
	courses := newCourseStoreStub(&models.Course{ID: "c1", Title: "Intro to Go", TeacherID: "t1", Status: models.CourseStatusActive})
	enrollments := newEnrollmentStoreStub(
		&models.Enrollment{ID: "e1", CourseID: "c1", StudentID: "s1", Status: models.EnrollmentStatusActive},
		&models.Enrollment{ID: "e2", CourseID: "c1", StudentID: "quitter", Status: models.EnrollmentStatusDropped},
	)
	repo := newGradeStoreStub(grades...)
	store := &notificationStoreStub{}
	audits := &auditWriterStub{}
	svc := NewGradeService(repo, courses, enrollments, audits, settings,
		NewNotificationService(store, settings, nil, jobs.Options{}), nil, nil)
	return &gradeFixture{svc: svc, repo: repo, notifications: store, audits: audits}
}

func TestGradeServiceUpsertMapsLetters(t *testing.T) {
	cases := []struct {
		score  float64
		letter string
	}{
		{95, "A"},
		{90, "A"},
		{85, "B"},
		{75, "C"},
		{60, "D"},
		{59.9, "F"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%g", tc.score), func(t *testing.T) {
			fx := newGradeFixture(t, &settingsStub{})
			grade, err := fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(tc.score)}, teacherClaims("t1"), models.RequestMeta{})
			require.NoError(t, err)
			assert.Equal(t, tc.letter, grade.Letter)
		})
	}
}

func TestGradeServiceUpsertConfiguredScale(t *testing.T) {
	settings := &settingsStub{objects: map[string]interface{}{
		KeyGradeScale: map[string]float64{"A": 50, "B": 30},
	}}
	fx := newGradeFixture(t, settings)

	grade, err := fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(55)}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "A", grade.Letter)

	grade, err = fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(20)}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "F", grade.Letter)
}

func TestGradeServiceUpsertNotifiesStudent(t *testing.T) {
	fx := newGradeFixture(t, &settingsStub{})

	_, err := fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(88)}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, 1, fx.notifications.count())
	require.Len(t, fx.audits.logs, 1)
	assert.Equal(t, models.AuditActionGradeUpsert, fx.audits.logs[0].Action)
}

func TestGradeServiceUpsertEnrollmentChecks(t *testing.T) {
	fx := newGradeFixture(t, &settingsStub{})

	_, err := fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "stranger", Score: fptr(70)}, teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "not enrolled")

	_, err = fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "quitter", Score: fptr(70)}, teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "dropped")
}

func TestGradeServiceUpsertGuards(t *testing.T) {
	fx := newGradeFixture(t, &settingsStub{})

	_, err := fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(70)}, teacherClaims("intruder"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(120)}, teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "Score must be between 0 and 100")
}

func TestGradeServiceUpsertReplacesExisting(t *testing.T) {
	fx := newGradeFixture(t, &settingsStub{}, &models.Grade{ID: "g1", StudentID: "s1", CourseID: "c1", Score: 70, Letter: "C"})

	grade, err := fx.svc.Upsert(context.Background(), "c1", UpsertGradeRequest{StudentID: "s1", Score: fptr(91)}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "A", grade.Letter)
	assert.Len(t, fx.repo.grades, 1)
	require.Len(t, fx.audits.logs, 1)
	assert.NotEmpty(t, fx.audits.logs[0].OldValues)
}

func TestGradeServiceReads(t *testing.T) {
	fx := newGradeFixture(t, &settingsStub{},
		&models.Grade{ID: "g1", StudentID: "s1", CourseID: "c1", Score: 70, Letter: "C"},
		&models.Grade{ID: "g2", StudentID: "s2", CourseID: "c1", Score: 90, Letter: "A"},
	)

	_, err := fx.svc.Roster(context.Background(), "c1", studentClaims("s1", "Sam"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	roster, err := fx.svc.Roster(context.Background(), "c1", teacherClaims("t1"))
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	grade, err := fx.svc.GetForStudent(context.Background(), "c1", studentClaims("s1", "Sam"))
	require.NoError(t, err)
	assert.Equal(t, "C", grade.Letter)

	_, err = fx.svc.GetForStudent(context.Background(), "c1", studentClaims("ungraded", "Uma"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	own, err := fx.svc.ListOwn(context.Background(), studentClaims("s1", "Sam"))
	require.NoError(t, err)
	assert.Len(t, own, 1)
}

func TestGradeServiceSummary(t *testing.T) {
	fx := newGradeFixture(t, &settingsStub{},
		&models.Grade{ID: "g1", StudentID: "s1", CourseID: "c1", Score: 70, Letter: "C"},
		&models.Grade{ID: "g2", StudentID: "s2", CourseID: "c1", Score: 90, Letter: "A"},
	)

	summary, err := fx.svc.Summary(context.Background(), "c1", adminClaims("a1"))
	require.NoError(t, err)
	assert.Equal(t, "c1", summary.CourseID)
	assert.Equal(t, 2, summary.GradedCount)
	assert.Equal(t, 80.0, summary.AverageScore)
}
