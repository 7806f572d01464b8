package service

import (
	"context"

	"github.com/edumanage/edumanage-api/internal/models"
)

// settingsReader is the runtime configuration surface the other services
// consume, implemented by *ConfigurationService. Every getter returns the
// caller-provided fallback when the key is missing or the stored value
// cannot be coerced, so callers never fail on configuration drift.
type settingsReader interface {
	Bool(ctx context.Context, key string, fallback bool) bool
	Number(ctx context.Context, key string, fallback float64) float64
	Text(ctx context.Context, key, fallback string) string
	Strings(ctx context.Context, key string, fallback []string) []string
	Object(ctx context.Context, key string, dest interface{}) bool
}

// auditWriter records audit trail entries. Audit failures are non-fatal;
// services log them and carry on.
type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// The setting helpers tolerate a nil reader so services degrade to their
// built-in defaults when wired without a configuration service.

func settingBool(ctx context.Context, s settingsReader, key string, fallback bool) bool {
	if s == nil {
		return fallback
	}
	return s.Bool(ctx, key, fallback)
}

func settingNumber(ctx context.Context, s settingsReader, key string, fallback float64) float64 {
	if s == nil {
		return fallback
	}
	return s.Number(ctx, key, fallback)
}

func settingText(ctx context.Context, s settingsReader, key, fallback string) string {
	if s == nil {
		return fallback
	}
	return s.Text(ctx, key, fallback)
}

func settingStrings(ctx context.Context, s settingsReader, key string, fallback []string) []string {
	if s == nil {
		return fallback
	}
	return s.Strings(ctx, key, fallback)
}

func settingObject(ctx context.Context, s settingsReader, key string, dest interface{}) bool {
	if s == nil {
		return false
	}
	return s.Object(ctx, key, dest)
}
