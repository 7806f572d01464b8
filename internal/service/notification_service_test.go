package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/jobs"
)

type notificationStoreStub struct {
	mu    sync.Mutex
	items []models.Notification
}

func (m *notificationStoreStub) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.items {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (m *notificationStoreStub) Create(ctx context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *notification)
	return nil
}

func (m *notificationStoreStub) MarkRead(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *notificationStoreStub) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var updated int64
	for i := range m.items {
		if m.items[i].UserID == userID && !m.items[i].IsRead {
			m.items[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (m *notificationStoreStub) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func TestNotificationServiceDispatchInline(t *testing.T) {
	store := &notificationStoreStub{}
	svc := NewNotificationService(store, &settingsStub{}, nil, jobs.Options{})

	// Queue not started: dispatch falls back to inline delivery.
	svc.Dispatch(context.Background(), models.Notification{UserID: "u1", Type: models.NotificationEnrollment, Title: "New enrollment", Body: "x"})
	assert.Equal(t, 1, store.count())
}

func TestNotificationServiceDispatchThroughQueue(t *testing.T) {
	store := &notificationStoreStub{}
	svc := NewNotificationService(store, &settingsStub{}, nil, jobs.Options{Workers: 1})
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Dispatch(context.Background(), models.Notification{UserID: "u1", Type: models.NotificationGrade, Title: "Grade posted", Body: "x"})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestNotificationServiceRespectsChannels(t *testing.T) {
	store := &notificationStoreStub{}
	settings := &settingsStub{lists: map[string][]string{KeyNotificationChannels: {"email"}}}
	svc := NewNotificationService(store, settings, nil, jobs.Options{})

	svc.Dispatch(context.Background(), models.Notification{UserID: "u1", Type: models.NotificationMessage, Title: "New message", Body: "x"})
	assert.Equal(t, 0, store.count(), "in_app channel disabled, no row expected")

	settings.lists[KeyNotificationChannels] = nil
	svc.Dispatch(context.Background(), models.Notification{UserID: "u1", Type: models.NotificationMessage, Title: "New message", Body: "x"})
	assert.Equal(t, 0, store.count())
}

func TestNotificationServiceNilProducer(t *testing.T) {
	var svc *NotificationService
	// Must not panic.
	svc.Dispatch(context.Background(), models.Notification{UserID: "u1"})
	svc.Start(context.Background())
	svc.Stop()
}

func TestNotificationServiceMarkRead(t *testing.T) {
	store := &notificationStoreStub{items: []models.Notification{
		{ID: "n1", UserID: "u1", Title: "a"},
		{ID: "n2", UserID: "u1", Title: "b"},
		{ID: "n3", UserID: "u2", Title: "c"},
	}}
	svc := NewNotificationService(store, &settingsStub{}, nil, jobs.Options{})

	require.NoError(t, svc.MarkRead(context.Background(), "n1", "u1"))

	err := svc.MarkRead(context.Background(), "n3", "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	updated, err := svc.MarkAllRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	unread, err := svc.List(context.Background(), "u1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
