package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
	"github.com/edumanage/edumanage-api/pkg/storage"
)

type uploadStoreStub struct {
	uploads map[string]*models.Upload
}

func newUploadStoreStub(uploads ...*models.Upload) *uploadStoreStub {
	s := &uploadStoreStub{uploads: make(map[string]*models.Upload)}
	for _, u := range uploads {
		s.uploads[u.ID] = u
	}
	return s
}

func (m *uploadStoreStub) FindByID(ctx context.Context, id string) (*models.Upload, error) {
	u, ok := m.uploads[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (m *uploadStoreStub) ListByOwner(ctx context.Context, ownerID string) ([]models.Upload, error) {
	var out []models.Upload
	for _, u := range m.uploads {
		if u.OwnerID == ownerID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *uploadStoreStub) ListByCourse(ctx context.Context, courseID string) ([]models.Upload, error) {
	var out []models.Upload
	for _, u := range m.uploads {
		if u.CourseID != nil && *u.CourseID == courseID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *uploadStoreStub) Create(ctx context.Context, upload *models.Upload) error {
	if upload.ID == "" {
		upload.ID = upload.StoredName
	}
	m.uploads[upload.ID] = upload
	return nil
}

func (m *uploadStoreStub) Delete(ctx context.Context, id string) error {
	if _, ok := m.uploads[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.uploads, id)
	return nil
}

func newUploadFixture(t *testing.T, settings *settingsStub, uploads ...*models.Upload) (*UploadService, *uploadStoreStub, *storage.LocalStorage) {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	courses := newCourseStoreStub(&models.Course{ID: "c1", Title: "Intro to Go", TeacherID: "t1", Status: models.CourseStatusActive})
	enrollments := newEnrollmentStoreStub(&models.Enrollment{ID: "e1", CourseID: "c1", StudentID: "s1", Status: models.EnrollmentStatusActive})
	repo := newUploadStoreStub(uploads...)
	signer := storage.NewSignedURLSigner("upload-test-secret", time.Hour)
	svc := NewUploadService(repo, blobs, courses, enrollments, &auditWriterStub{}, settings, signer, "/api", nil)
	return svc, repo, blobs
}

func TestUploadServiceSaveAndOpen(t *testing.T) {
	svc, repo, _ := newUploadFixture(t, &settingsStub{})

	req := SaveUploadRequest{
		FileName:    "Lecture Notes.pdf",
		ContentType: "application/pdf",
		Size:        5,
		Reader:      strings.NewReader("hello"),
	}
	upload, err := svc.Save(context.Background(), req, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Lecture Notes.pdf", upload.FileName)
	assert.True(t, strings.HasSuffix(upload.StoredName, ".pdf"))
	assert.NotEqual(t, upload.FileName, upload.StoredName)
	assert.Equal(t, int64(5), upload.SizeBytes)
	assert.Len(t, repo.uploads, 1)

	got, file, err := svc.Open(context.Background(), upload.ID, studentClaims("s1", "Sam"))
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, upload.ID, got.ID)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUploadServiceRejectsDisallowedTypes(t *testing.T) {
	svc, _, _ := newUploadFixture(t, &settingsStub{})

	_, err := svc.Save(context.Background(), SaveUploadRequest{FileName: "tool.exe", Size: 1, Reader: strings.NewReader("x")}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, `File type "exe" is not allowed`)
}

func TestUploadServiceConfiguredTypes(t *testing.T) {
	settings := &settingsStub{lists: map[string][]string{KeyAllowedFileTypes: {"txt"}}}
	svc, _, _ := newUploadFixture(t, settings)
	actor := studentClaims("s1", "Sam")

	_, err := svc.Save(context.Background(), SaveUploadRequest{FileName: "notes.pdf", Size: 1, Reader: strings.NewReader("x")}, actor, models.RequestMeta{})
	require.Error(t, err)

	_, err = svc.Save(context.Background(), SaveUploadRequest{FileName: "notes.txt", Size: 1, Reader: strings.NewReader("x")}, actor, models.RequestMeta{})
	require.NoError(t, err)
}

func TestUploadServiceSizeLimit(t *testing.T) {
	settings := &settingsStub{numbers: map[string]float64{KeyMaxFileSize: 10}}
	svc, repo, _ := newUploadFixture(t, settings)
	actor := studentClaims("s1", "Sam")

	_, err := svc.Save(context.Background(), SaveUploadRequest{FileName: "big.pdf", Size: 20, Reader: strings.NewReader("irrelevant")}, actor, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFileTooLarge.Code, appErrors.FromError(err).Code)

	// A dishonest declared size still gets caught on the actual bytes.
	_, err = svc.Save(context.Background(), SaveUploadRequest{FileName: "sneaky.pdf", Size: 5, Reader: strings.NewReader("twenty bytes of data")}, actor, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFileTooLarge.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.uploads)
}

func TestUploadServiceCourseScope(t *testing.T) {
	svc, _, _ := newUploadFixture(t, &settingsStub{})
	courseID := "c1"

	req := SaveUploadRequest{FileName: "syllabus.pdf", Size: 1, CourseID: &courseID, Reader: strings.NewReader("x")}
	upload, err := svc.Save(context.Background(), req, teacherClaims("t1"), models.RequestMeta{})
	require.NoError(t, err)

	// Enrolled student can read course files, a stranger cannot.
	_, file, err := svc.Open(context.Background(), upload.ID, studentClaims("s1", "Sam"))
	require.NoError(t, err)
	file.Close()

	_, _, err = svc.Open(context.Background(), upload.ID, studentClaims("outsider", "Olle"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	list, err := svc.ListByCourse(context.Background(), courseID, studentClaims("s1", "Sam"))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUploadServicePrivateScope(t *testing.T) {
	svc, _, _ := newUploadFixture(t, &settingsStub{})

	upload, err := svc.Save(context.Background(), SaveUploadRequest{FileName: "draft.doc", Size: 1, Reader: strings.NewReader("x")}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)

	_, _, err = svc.Open(context.Background(), upload.ID, teacherClaims("t1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, file, err := svc.Open(context.Background(), upload.ID, adminClaims("a1"))
	require.NoError(t, err)
	file.Close()
}

func TestUploadServiceSignedLink(t *testing.T) {
	svc, _, _ := newUploadFixture(t, &settingsStub{})
	owner := studentClaims("s1", "Sam")

	upload, err := svc.Save(context.Background(), SaveUploadRequest{FileName: "paper.pdf", Size: 5, Reader: strings.NewReader("hello")}, owner, models.RequestMeta{})
	require.NoError(t, err)

	// Only someone who may read the upload can mint a link.
	_, err = svc.SignedLink(context.Background(), upload.ID, studentClaims("outsider", "Olle"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	link, err := svc.SignedLink(context.Background(), upload.ID, owner)
	require.NoError(t, err)
	assert.Contains(t, link.URL, "/api/uploads/download?token=")
	assert.True(t, link.ExpiresAt.After(time.Now()))

	// The token alone opens the file, no claims involved.
	got, file, err := svc.OpenSigned(context.Background(), link.Token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, upload.ID, got.ID)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, _, err = svc.OpenSigned(context.Background(), "tampered.token.value.sig")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUploadServiceDelete(t *testing.T) {
	svc, repo, blobs := newUploadFixture(t, &settingsStub{})

	upload, err := svc.Save(context.Background(), SaveUploadRequest{FileName: "old.zip", Size: 1, Reader: strings.NewReader("x")}, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), upload.ID, studentClaims("other", "Other"), models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), upload.ID, studentClaims("s1", "Sam"), models.RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, repo.uploads)

	_, err = blobs.Open(upload.StoredName)
	require.Error(t, err)
}
