package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edumanage/edumanage-api/internal/models"
	appErrors "github.com/edumanage/edumanage-api/pkg/errors"
)

// settingsStub satisfies the narrow settings interfaces services consume.
// Unset keys fall through to the caller-provided fallback, mirroring the
// real configuration service.
type settingsStub struct {
	bools   map[string]bool
	numbers map[string]float64
	strings map[string]string
	lists   map[string][]string
	objects map[string]interface{}
}

func (s *settingsStub) Bool(ctx context.Context, key string, fallback bool) bool {
	if v, ok := s.bools[key]; ok {
		return v
	}
	return fallback
}

func (s *settingsStub) Number(ctx context.Context, key string, fallback float64) float64 {
	if v, ok := s.numbers[key]; ok {
		return v
	}
	return fallback
}

func (s *settingsStub) Text(ctx context.Context, key, fallback string) string {
	if v, ok := s.strings[key]; ok {
		return v
	}
	return fallback
}

func (s *settingsStub) Strings(ctx context.Context, key string, fallback []string) []string {
	if v, ok := s.lists[key]; ok {
		return v
	}
	return fallback
}

func (s *settingsStub) Object(ctx context.Context, key string, dest interface{}) bool {
	v, ok := s.objects[key]
	if !ok {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

type authStoreStub struct {
	users            map[string]*models.User
	refreshTokens    map[string]*models.RefreshToken
	lastLoginUpdated bool
	revokedAll       bool
}

func newAuthStoreStub(users ...*models.User) *authStoreStub {
	s := &authStoreStub{users: make(map[string]*models.User), refreshTokens: make(map[string]*models.RefreshToken)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (m *authStoreStub) Create(ctx context.Context, user *models.User) error {
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return appErrors.Clone(appErrors.ErrConflict, "email is already registered")
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *authStoreStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *authStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *authStoreStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *authStoreStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *authStoreStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAll = true
	now := time.Now().UTC()
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
			token.RevokedAt = &now
		}
	}
	return nil
}

func (m *authStoreStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *authStoreStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *authStoreStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func newAuthService(repo *authStoreStub, settings *settingsStub, audits *auditWriterStub) *AuthService {
	return NewAuthService(repo, audits, settings, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newAuthStoreStub(&models.User{ID: "u1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleStudent})
	audits := &auditWriterStub{}
	svc := newAuthService(repo, &settingsStub{}, audits)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "u1", res.User.ID)
	assert.True(t, repo.lastLoginUpdated)
	assert.NotEmpty(t, repo.refreshTokens)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionLogin, audits.logs[0].Action)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := newAuthStoreStub(&models.User{ID: "u1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleStudent})
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := newAuthStoreStub(&models.User{ID: "u1", Email: "user@example.com", PasswordHash: hashed(t, "password"), Active: false, Role: models.RoleStudent})
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginMaintenanceBlocksNonAdmins(t *testing.T) {
	repo := newAuthStoreStub(
		&models.User{ID: "s1", Email: "student@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleStudent},
		&models.User{ID: "a1", Email: "admin@example.com", PasswordHash: hashed(t, "password"), Active: true, Role: models.RoleAdmin},
	)
	settings := &settingsStub{bools: map[string]bool{KeyMaintenanceMode: true}}
	svc := newAuthService(repo, settings, &auditWriterStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "student@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMaintenance.Code, appErrors.FromError(err).Code)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestAuthServiceRegisterStudent(t *testing.T) {
	repo := newAuthStoreStub()
	audits := &auditWriterStub{}
	svc := newAuthService(repo, &settingsStub{}, audits)

	res, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "new@example.com",
		Password: "longenough",
		FullName: "New Student",
		Role:     models.RoleStudent,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, models.RoleStudent, res.User.Role)

	created, err := repo.FindByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.True(t, created.Active)
	assert.NotEqual(t, "longenough", created.PasswordHash)
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionRegister, audits.logs[0].Action)
}

func TestAuthServiceRegisterGates(t *testing.T) {
	repo := newAuthStoreStub()
	svc := newAuthService(repo, &settingsStub{bools: map[string]bool{KeyStudentRegistrationOpen: false}}, &auditWriterStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "s@example.com", Password: "longenough", FullName: "Student", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Teacher registration defaults to closed.
	_, err = svc.Register(context.Background(), models.RegisterRequest{Email: "t@example.com", Password: "longenough", FullName: "Teacher", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.users)
}

func TestAuthServiceRegisterPasswordPolicy(t *testing.T) {
	repo := newAuthStoreStub()
	settings := &settingsStub{numbers: map[string]float64{KeyPasswordMinLength: 10}}
	svc := newAuthService(repo, settings, &auditWriterStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "new@example.com", Password: "short", FullName: "New Student", Role: models.RoleStudent})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "Password must be at least 10 characters")
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := newAuthStoreStub(&models.User{ID: "u1", Email: "taken@example.com", PasswordHash: "x", Active: true, Role: models.RoleStudent})
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Email: "taken@example.com", Password: "longenough", FullName: "Other", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", PasswordHash: "hash", Active: true, Role: models.RoleStudent}
	repo := newAuthStoreStub(user)
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthServiceRefreshTokenExpired(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleStudent}
	repo := newAuthStoreStub(user)
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(-time.Minute)}
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleStudent}
	repo := newAuthStoreStub(user)
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: "someone-else", Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	err := svc.Logout(context.Background(), "token", "u1", models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := hashed(t, "oldpassword")
	repo := newAuthStoreStub(&models.User{ID: "u1", Email: "user@example.com", PasswordHash: oldHash, Active: true, Role: models.RoleStudent})
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "oldpassword", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.users["u1"].PasswordHash)
	assert.True(t, repo.revokedAll)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "anotherpassword"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestValidateToken(t *testing.T) {
	repo := newAuthStoreStub()
	svc := newAuthService(repo, &settingsStub{}, &auditWriterStub{})
	user := &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin}
	token, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = svc.ValidateToken(token + "tampered")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
