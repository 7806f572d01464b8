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
)

type assignmentStoreStub struct {
	assignments map[string]*models.Assignment
}

func newAssignmentStoreStub(assignments ...*models.Assignment) *assignmentStoreStub {
	s := &assignmentStoreStub{assignments: make(map[string]*models.Assignment)}
	for _, a := range assignments {
		s.assignments[a.ID] = a
	}
	return s
}

func (m *assignmentStoreStub) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *a
	return &clone, nil
}

func (m *assignmentStoreStub) ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.CourseID == courseID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *assignmentStoreStub) Create(ctx context.Context, assignment *models.Assignment) error {
	m.assignments[assignment.ID] = assignment
	return nil
}

func (m *assignmentStoreStub) Update(ctx context.Context, assignment *models.Assignment) error {
	if _, ok := m.assignments[assignment.ID]; !ok {
		return sql.ErrNoRows
	}
	m.assignments[assignment.ID] = assignment
	return nil
}

func (m *assignmentStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := m.assignments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.assignments, id)
	return nil
}

func newAssignmentService(repo *assignmentStoreStub, courses *courseStoreStub, enrollments *enrollmentStoreStub, audits *auditWriterStub) *AssignmentService {
	return NewAssignmentService(repo, courses, enrollments, audits, nil, nil)
}

func TestAssignmentServiceCreate(t *testing.T) {
	courses := newCourseStoreStub(&models.Course{ID: "c1", Title: "Intro to Go", TeacherID: "t1", Status: models.CourseStatusActive})
	repo := newAssignmentStoreStub()
	audits := &auditWriterStub{}
	svc := newAssignmentService(repo, courses, newEnrollmentStoreStub(), audits)

	due := time.Now().Add(72 * time.Hour)
	req := CreateAssignmentRequest{Title: "Homework 1", DueDate: due, MaxPoints: 100}

	_, err := svc.Create(context.Background(), "c1", req, teacherClaims("intruder"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	assignment, err := svc.Create(context.Background(), "c1", req, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "c1", assignment.CourseID)
	assert.Equal(t, due.UTC(), assignment.DueDate)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionAssignCreate, audits.logs[0].Action)
}

func TestAssignmentServiceStudentVisibility(t *testing.T) {
	courses := newCourseStoreStub(&models.Course{ID: "c1", TeacherID: "t1", Status: models.CourseStatusActive})
	repo := newAssignmentStoreStub(&models.Assignment{ID: "a1", CourseID: "c1", Title: "Homework 1"})
	enrollments := newEnrollmentStoreStub(
		&models.Enrollment{ID: "e1", CourseID: "c1", StudentID: "enrolled", Status: models.EnrollmentStatusActive},
		&models.Enrollment{ID: "e2", CourseID: "c1", StudentID: "dropped", Status: models.EnrollmentStatusDropped},
	)
	svc := newAssignmentService(repo, courses, enrollments, &auditWriterStub{})

	list, err := svc.ListByCourse(context.Background(), "c1", studentClaims("enrolled", "Eva"))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.ListByCourse(context.Background(), "c1", studentClaims("outsider", "Olle"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "not enrolled")

	_, err = svc.Get(context.Background(), "a1", studentClaims("dropped", "Dan"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	assignment, err := svc.Get(context.Background(), "a1", teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, "Homework 1", assignment.Title)
}

func TestAssignmentServiceUpdatePartial(t *testing.T) {
	courses := newCourseStoreStub(&models.Course{ID: "c1", TeacherID: "t1", Status: models.CourseStatusActive})
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newAssignmentStoreStub(&models.Assignment{ID: "a1", CourseID: "c1", Title: "Homework 1", DueDate: due, MaxPoints: 100})
	svc := newAssignmentService(repo, courses, newEnrollmentStoreStub(), &auditWriterStub{})

	title := "Homework 1 (revised)"
	assignment, err := svc.Update(context.Background(), "a1", UpdateAssignmentRequest{Title: &title}, adminClaims("a1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, title, assignment.Title)
	assert.Equal(t, due, assignment.DueDate)
	assert.Equal(t, float64(100), assignment.MaxPoints)
}

func TestAssignmentServiceDelete(t *testing.T) {
	courses := newCourseStoreStub(&models.Course{ID: "c1", TeacherID: "t1", Status: models.CourseStatusActive})
	repo := newAssignmentStoreStub(&models.Assignment{ID: "a1", CourseID: "c1", Title: "Homework 1"})
	audits := &auditWriterStub{}
	svc := newAssignmentService(repo, courses, newEnrollmentStoreStub(), audits)

	err := svc.Delete(context.Background(), "a1", teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, repo.assignments)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionAssignDelete, audits.logs[0].Action)

	err = svc.Delete(context.Background(), "a1", teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
