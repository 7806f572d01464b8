package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/repository"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type dashboardCountsStub struct {
	counts *repository.DashboardCounts
	calls  int
	err    error
}

func (s *dashboardCountsStub) Counts(context.Context) (*repository.DashboardCounts, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.counts, nil
}

type dashboardUsersStub struct {
	users []models.User
}

func (s *dashboardUsersStub) List(context.Context, models.UserFilter) ([]models.User, int, error) {
	return s.users, len(s.users), nil
}

type dashboardEnrollmentsStub struct {
	enrollments []models.Enrollment
}

func (s *dashboardEnrollmentsStub) ListRecent(context.Context, int) ([]models.Enrollment, error) {
	return s.enrollments, nil
}

type memoryCacheRepo struct {
	store map[string][]byte
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if m.store == nil {
		m.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = payload
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(context.Context, string) error { return nil }

func TestDashboardServiceSummaryCaching(t *testing.T) {
	counts := &dashboardCountsStub{counts: &repository.DashboardCounts{
		Students:          120,
		Teachers:          8,
		ActiveCourses:     14,
		PendingCourses:    3,
		ActiveEnrollments: 240,
		UnreadMessages:    17,
	}}
	users := &dashboardUsersStub{users: []models.User{
		{ID: "u1", Email: "new@campus.io", FullName: "New Student", Role: models.RoleStudent},
	}}
	enrollments := &dashboardEnrollmentsStub{enrollments: []models.Enrollment{
		{ID: "e1", StudentID: "u1", CourseID: "c1", Status: models.EnrollmentStatusActive},
	}}
	cacheSvc := NewCacheService(&memoryCacheRepo{}, nil, time.Minute, zap.NewNop(), true)

	svc := NewDashboardService(counts, users, enrollments, cacheSvc, time.Minute, zap.NewNop())

	summary, cacheHit, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 120, summary.Students)
	assert.Equal(t, 17, summary.UnreadMessages)
	require.Len(t, summary.RecentRegistrations, 1)
	assert.Equal(t, "new@campus.io", summary.RecentRegistrations[0].Email)
	require.Len(t, summary.RecentEnrollments, 1)
	assert.Equal(t, 1, counts.calls)

	cachedSummary, cacheHit2, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.True(t, cacheHit2)
	assert.Equal(t, 1, counts.calls)
	assert.Equal(t, summary.Students, cachedSummary.Students)
}

func TestDashboardServiceSummaryWithoutCache(t *testing.T) {
	counts := &dashboardCountsStub{counts: &repository.DashboardCounts{Students: 1}}
	svc := NewDashboardService(counts, &dashboardUsersStub{}, &dashboardEnrollmentsStub{}, nil, 0, zap.NewNop())

	_, cacheHit, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit)

	_, cacheHit2, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit2)
	assert.Equal(t, 2, counts.calls)
}

func TestDashboardServiceCountsErrorPassthrough(t *testing.T) {
	counts := &dashboardCountsStub{err: assert.AnError}
	svc := NewDashboardService(counts, &dashboardUsersStub{}, &dashboardEnrollmentsStub{}, nil, 0, zap.NewNop())

	_, _, err := svc.Summary(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
