package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/dto"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/repository"
)

const (
	dashboardCacheKey     = "dashboard:admin"
	dashboardRecentLimit  = 5
	dashboardUserPageSize = 5
)

type dashboardCounter interface {
	Counts(ctx context.Context) (*repository.DashboardCounts, error)
}

type recentUserLister interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

type recentEnrollmentLister interface {
	ListRecent(ctx context.Context, limit int) ([]models.Enrollment, error)
}

// DashboardService composes the admin dashboard payload with cache integration.
type DashboardService struct {
	counts      dashboardCounter
	users       recentUserLister
	enrollments recentEnrollmentLister
	cache       *CacheService
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewDashboardService constructs a dashboard service.
func NewDashboardService(counts dashboardCounter, users recentUserLister, enrollments recentEnrollmentLister, cache *CacheService, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		counts:      counts,
		users:       users,
		enrollments: enrollments,
		cache:       cache,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// Summary returns the aggregated dashboard. The boolean indicates whether the
// payload originated from cache.
func (s *DashboardService) Summary(ctx context.Context) (*dto.DashboardResponse, bool, error) {
	var cached dto.DashboardResponse
	if hit, err := s.cache.Get(ctx, dashboardCacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	counts, err := s.counts.Counts(ctx)
	if err != nil {
		return nil, false, err
	}

	recentUsers, _, err := s.users.List(ctx, models.UserFilter{Page: 1, PageSize: dashboardUserPageSize})
	if err != nil {
		return nil, false, err
	}
	registrations := make([]models.UserInfo, 0, len(recentUsers))
	for i := range recentUsers {
		registrations = append(registrations, recentUsers[i].Info())
	}

	recentEnrollments, err := s.enrollments.ListRecent(ctx, dashboardRecentLimit)
	if err != nil {
		return nil, false, err
	}
	if recentEnrollments == nil {
		recentEnrollments = []models.Enrollment{}
	}

	summary := &dto.DashboardResponse{
		Students:            counts.Students,
		Teachers:            counts.Teachers,
		ActiveCourses:       counts.ActiveCourses,
		PendingCourses:      counts.PendingCourses,
		ActiveEnrollments:   counts.ActiveEnrollments,
		UnreadMessages:      counts.UnreadMessages,
		RecentRegistrations: registrations,
		RecentEnrollments:   recentEnrollments,
		GeneratedAt:         s.now().UTC(),
	}

	if err := s.cache.Set(ctx, dashboardCacheKey, summary, s.ttl); err != nil {
		s.logger.Warn("failed to cache dashboard summary", zap.Error(err))
	}

	return summary, false, nil
}
