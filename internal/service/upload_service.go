package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

type uploadStore interface {
	FindByID(ctx context.Context, id string) (*models.Upload, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Upload, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Upload, error)
	Create(ctx context.Context, upload *models.Upload) error
	Delete(ctx context.Context, id string) error
}

// blobStore is the slice of pkg/storage the upload service needs.
type blobStore interface {
	SaveStream(filename string, r io.Reader) (int64, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type uploadLinkSigner interface {
	Generate(uploadID, relPath string) (string, time.Time, error)
	Parse(token string) (uploadID, relPath string, expiresAt time.Time, err error)
}

// UploadLink is a time-limited download reference that works without an
// Authorization header.
type UploadLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var defaultAllowedFileTypes = []string{"pdf", "doc", "docx", "png", "jpg", "zip"}

// SaveUploadRequest carries one incoming file. Size is the declared length;
// the service re-checks the actual bytes written.
type SaveUploadRequest struct {
	FileName    string
	ContentType string
	Size        int64
	CourseID    *string
	Reader      io.Reader
}

// UploadService stores files on disk under server-generated names and keeps
// their metadata in the database. Size and type limits come from the
// configuration store.
type UploadService struct {
	repo        uploadStore
	blobs       blobStore
	courses     enrollmentCourseReader
	enrollments assignmentEnrollmentReader
	audits      auditWriter
	settings    settingsReader
	signer      uploadLinkSigner
	apiPrefix   string
	logger      *zap.Logger
}

// NewUploadService creates an instance of UploadService.
func NewUploadService(repo uploadStore, blobs blobStore, courses enrollmentCourseReader, enrollments assignmentEnrollmentReader, audits auditWriter, settings settingsReader, signer uploadLinkSigner, apiPrefix string, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiPrefix == "" {
		apiPrefix = "/api"
	}
	return &UploadService{
		repo:        repo,
		blobs:       blobs,
		courses:     courses,
		enrollments: enrollments,
		audits:      audits,
		settings:    settings,
		signer:      signer,
		apiPrefix:   apiPrefix,
		logger:      logger,
	}
}

// Save stores an uploaded file after checking the configured size and type
// limits. Files attached to a course require the uploader to participate in
// it.
func (s *UploadService) Save(ctx context.Context, req SaveUploadRequest, actor *models.JWTClaims, meta models.RequestMeta) (*models.Upload, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return nil, appErrors.Validation([]string{"File name is required"})
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.FileName)), ".")
	allowed := settingStrings(ctx, s.settings, KeyAllowedFileTypes, defaultAllowedFileTypes)
	if ext == "" || !containsString(allowed, ext) {
		return nil, appErrors.Validation([]string{fmt.Sprintf("File type %q is not allowed", ext)})
	}

	maxSize := int64(settingNumber(ctx, s.settings, KeyMaxFileSize, 10485760))
	if req.Size > maxSize {
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds the maximum allowed size of %d bytes", maxSize))
	}

	if req.CourseID != nil {
		if err := s.requireCourseParticipant(ctx, *req.CourseID, actor); err != nil {
			return nil, err
		}
	}

	storedName := uuid.NewString() + "." + ext
	// The declared size can lie, so cap the copy and verify afterwards.
	written, err := s.blobs.SaveStream(storedName, io.LimitReader(req.Reader, maxSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	if written > maxSize {
		s.discardBlob(storedName)
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds the maximum allowed size of %d bytes", maxSize))
	}

	upload := &models.Upload{
		OwnerID:     actor.UserID,
		CourseID:    req.CourseID,
		FileName:    filepath.Base(req.FileName),
		StoredName:  storedName,
		ContentType: req.ContentType,
		SizeBytes:   written,
	}
	if err := s.repo.Create(ctx, upload); err != nil {
		s.discardBlob(storedName)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save upload metadata")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"file_name": upload.FileName, "size_bytes": upload.SizeBytes})
	s.emitAudit(ctx, actor, models.AuditActionUploadCreate, upload.ID, newPayload, meta)

	return upload, nil
}

// Open returns the metadata and a read handle for one stored file. The
// caller owns closing the handle.
func (s *UploadService) Open(ctx context.Context, id string, actor *models.JWTClaims) (*models.Upload, *os.File, error) {
	upload, err := s.loadUpload(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorizeAccess(ctx, upload, actor); err != nil {
		return nil, nil, err
	}

	file, err := s.blobs.Open(upload.StoredName)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored file")
	}
	return upload, file, nil
}

// SignedLink issues a time-limited download URL for an upload the actor may
// access. The resulting link needs no Authorization header.
func (s *UploadService) SignedLink(ctx context.Context, id string, actor *models.JWTClaims) (*UploadLink, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	upload, err := s.loadUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeAccess(ctx, upload, actor); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(upload.ID, upload.StoredName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.apiPrefix, "/")
	return &UploadLink{
		URL:       fmt.Sprintf("%s/uploads/download?token=%s", base, token),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// OpenSigned resolves a signed token to its upload and a read handle. The
// token signature is the authorization; no claims are consulted.
func (s *UploadService) OpenSigned(ctx context.Context, token string) (*models.Upload, *os.File, error) {
	if s.signer == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	uploadID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	upload, err := s.loadUpload(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}
	if upload.StoredName != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}

	file, err := s.blobs.Open(upload.StoredName)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored file")
	}
	return upload, file, nil
}

// Get returns upload metadata without touching the stored bytes.
func (s *UploadService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Upload, error) {
	upload, err := s.loadUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeAccess(ctx, upload, actor); err != nil {
		return nil, err
	}
	return upload, nil
}

// ListOwn returns the acting user's uploads.
func (s *UploadService) ListOwn(ctx context.Context, actor *models.JWTClaims) ([]models.Upload, error) {
	if actor == nil || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	uploads, err := s.repo.ListByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list uploads")
	}
	if uploads == nil {
		uploads = []models.Upload{}
	}
	return uploads, nil
}

// ListByCourse returns a course's uploads to its participants.
func (s *UploadService) ListByCourse(ctx context.Context, courseID string, actor *models.JWTClaims) ([]models.Upload, error) {
	if err := s.requireCourseParticipant(ctx, courseID, actor); err != nil {
		return nil, err
	}
	uploads, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list uploads")
	}
	if uploads == nil {
		uploads = []models.Upload{}
	}
	return uploads, nil
}

// Delete removes an upload and its stored bytes. Only the owner or an admin
// may delete.
func (s *UploadService) Delete(ctx context.Context, id string, actor *models.JWTClaims, meta models.RequestMeta) error {
	upload, err := s.loadUpload(ctx, id)
	if err != nil {
		return err
	}
	if actor == nil || (actor.Role != models.RoleAdmin && actor.UserID != upload.OwnerID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner may delete this upload")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "upload not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete upload")
	}
	s.discardBlob(upload.StoredName)

	oldPayload, _ := json.Marshal(map[string]interface{}{"file_name": upload.FileName})
	s.emitAudit(ctx, actor, models.AuditActionUploadDelete, id, oldPayload, meta)

	return nil
}

// authorizeAccess lets the owner and admins through always, and course
// participants when the upload is attached to a course.
func (s *UploadService) authorizeAccess(ctx context.Context, upload *models.Upload, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if actor.Role == models.RoleAdmin || actor.UserID == upload.OwnerID {
		return nil
	}
	if upload.CourseID == nil {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owner may access this upload")
	}
	return s.requireCourseParticipant(ctx, *upload.CourseID, actor)
}

func (s *UploadService) requireCourseParticipant(ctx context.Context, courseID string, actor *models.JWTClaims) error {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if canManageCourse(actor, course) {
		return nil
	}
	if actor == nil || actor.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}

	enrollment, err := s.enrollments.FindByStudentAndCourse(ctx, actor.UserID, courseID)
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

func (s *UploadService) loadUpload(ctx context.Context, id string) (*models.Upload, error) {
	upload, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "upload not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load upload")
	}
	return upload, nil
}

func (s *UploadService) discardBlob(storedName string) {
	if err := s.blobs.Delete(storedName); err != nil {
		s.logger.Warn("failed to remove stored file", zap.String("stored_name", storedName), zap.Error(err))
	}
}

func (s *UploadService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, payload []byte, meta models.RequestMeta) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Create(ctx, &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   "uploads",
		ResourceID: &resourceID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record upload audit log", zap.String("action", action), zap.Error(err))
	}
}
