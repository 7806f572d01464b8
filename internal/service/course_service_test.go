package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type courseStoreStub struct {
	courses     map[string]*models.Course
	activeCount map[string]int
}

func newCourseStoreStub(courses ...*models.Course) *courseStoreStub {
	s := &courseStoreStub{courses: make(map[string]*models.Course), activeCount: make(map[string]int)}
	for _, c := range courses {
		s.courses[c.ID] = c
	}
	return s
}

func (m *courseStoreStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := m.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (m *courseStoreStub) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range m.courses {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.TeacherID != "" && c.TeacherID != filter.TeacherID {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *courseStoreStub) Create(ctx context.Context, course *models.Course) error {
	for _, existing := range m.courses {
		if existing.Code == course.Code {
			return appErrors.Clone(appErrors.ErrConflict, "course with code already exists")
		}
	}
	m.courses[course.ID] = course
	return nil
}

func (m *courseStoreStub) Update(ctx context.Context, course *models.Course) error {
	if _, ok := m.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	m.courses[course.ID] = course
	return nil
}

func (m *courseStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := m.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.courses, id)
	return nil
}

func (m *courseStoreStub) CountActiveEnrollments(ctx context.Context, courseID string) (int, error) {
	return m.activeCount[courseID], nil
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func TestCourseServiceCreateAppliesConfiguredDefaults(t *testing.T) {
	repo := newCourseStoreStub()
	settings := &settingsStub{
		numbers: map[string]float64{KeyMaxCourseCapacity: 40},
		bools:   map[string]bool{KeyCourseApprovalRequired: true},
	}
	svc := NewCourseService(repo, &auditWriterStub{}, settings, nil, nil)

	course, err := svc.Create(context.Background(), CreateCourseRequest{Code: "GO101", Title: "Intro to Go"}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "t1", course.TeacherID)
	assert.Equal(t, 40, course.Capacity)
	assert.Equal(t, models.CourseStatusPending, course.Status)
}

func TestCourseServiceCreateActiveWhenApprovalOff(t *testing.T) {
	repo := newCourseStoreStub()
	svc := NewCourseService(repo, &auditWriterStub{}, &settingsStub{}, nil, nil)

	course, err := svc.Create(context.Background(), CreateCourseRequest{Code: "GO102", Title: "Concurrency", Capacity: 25}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)
	assert.Equal(t, 25, course.Capacity)
}

func TestCourseServiceCreateDuplicateCode(t *testing.T) {
	repo := newCourseStoreStub(&models.Course{ID: "c1", Code: "GO101", Title: "Existing", TeacherID: "t1", Status: models.CourseStatusActive})
	svc := NewCourseService(repo, &auditWriterStub{}, &settingsStub{}, nil, nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{Code: "GO101", Title: "Clone"}, teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateOwnership(t *testing.T) {
	repo := newCourseStoreStub(&models.Course{ID: "c1", Code: "GO101", Title: "Intro", TeacherID: "t1", Capacity: 30, Status: models.CourseStatusActive})
	svc := NewCourseService(repo, &auditWriterStub{}, &settingsStub{}, nil, nil)

	title := "Intro to Go"
	_, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Title: &title}, teacherClaims("other"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	course, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Title: &title}, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", course.Title)

	archived := models.CourseStatusArchived
	_, err = svc.Update(context.Background(), "c1", UpdateCourseRequest{Status: &archived}, teacherClaims("t1"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	course, err = svc.Update(context.Background(), "c1", UpdateCourseRequest{Status: &archived}, adminClaims("a1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusArchived, course.Status)
}

func TestCourseServiceApprove(t *testing.T) {
	repo := newCourseStoreStub(&models.Course{ID: "c1", Code: "GO101", Title: "Intro", TeacherID: "t1", Status: models.CourseStatusPending})
	audits := &auditWriterStub{}
	svc := NewCourseService(repo, audits, &settingsStub{}, nil, nil)

	course, err := svc.Approve(context.Background(), "c1", adminClaims("a1"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusActive, course.Status)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionCourseApprove, audits.logs[0].Action)

	_, err = svc.Approve(context.Background(), "c1", adminClaims("a1"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceDeleteBlockedByActiveEnrollments(t *testing.T) {
	repo := newCourseStoreStub(&models.Course{ID: "c1", Code: "GO101", Title: "Intro", TeacherID: "t1", Status: models.CourseStatusActive})
	repo.activeCount["c1"] = 2
	svc := NewCourseService(repo, &auditWriterStub{}, &settingsStub{}, nil, nil)

	err := svc.Delete(context.Background(), "c1", adminClaims("a1"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	repo.activeCount["c1"] = 0
	require.NoError(t, svc.Delete(context.Background(), "c1", adminClaims("a1"), models.RequestMeta{}))
	assert.Empty(t, repo.courses)
}
