package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/pkg/config"
	"github.com/edumanage/edumanage-api/pkg/database"
	"github.com/edumanage/edumanage-api/pkg/logger"
)

// Seeds the configuration store with the default entries and, when the admin
// flags are set, a bootstrap ADMIN account. Existing rows are left untouched
// so the command is safe to re-run.
func main() {
	var (
		adminEmail    string
		adminPassword string
		timeout       time.Duration
	)
	flag.StringVar(&adminEmail, "admin-email", "", "email for the bootstrap admin account (optional)")
	flag.StringVar(&adminPassword, "admin-password", "", "password for the bootstrap admin account")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "overall execution timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	inserted, err := seedConfigurations(ctx, db)
	if err != nil {
		logr.Fatal("failed to seed configurations", zap.Error(err))
	}
	logr.Info("configuration seed complete",
		zap.Int("inserted", inserted),
		zap.Int("total", len(defaultConfigurations())),
	)

	if adminEmail == "" {
		return
	}
	if adminPassword == "" {
		logr.Fatal("-admin-password is required when -admin-email is set")
	}
	created, err := seedAdmin(ctx, db, adminEmail, adminPassword)
	if err != nil {
		logr.Fatal("failed to seed admin account", zap.Error(err))
	}
	if created {
		logr.Info("admin account created", zap.String("email", adminEmail))
	} else {
		logr.Info("admin account already exists, skipped", zap.String("email", adminEmail))
	}
}

const insertConfiguration = `
	INSERT INTO configurations (id, key, value, type, category, description, is_public, is_editable, validation, default_value, tags, version, created_at, updated_at)
	VALUES (:id, :key, :value, :type, :category, :description, :is_public, :is_editable, :validation, :default_value, :tags, :version, :created_at, :updated_at)
	ON CONFLICT (key) DO NOTHING`

func seedConfigurations(ctx context.Context, db *sqlx.DB) (int, error) {
	inserted := 0
	for _, entry := range defaultConfigurations() {
		res, err := db.NamedExecContext(ctx, insertConfiguration, entry)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

const insertAdmin = `
	INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
	VALUES (:id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)
	ON CONFLICT (email) DO NOTHING`

func seedAdmin(ctx context.Context, db *sqlx.DB, email, password string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res, err := db.NamedExecContext(ctx, insertAdmin, &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     "Administrator",
		Role:         models.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// defaultConfigurations returns the complete seed set. The defaults here and
// the fallbacks built into pkg/configclient are kept value for value in sync.
func defaultConfigurations() []models.Configuration {
	now := time.Now().UTC()
	build := func(key string, value models.ConfigValue, typ models.ConfigurationType, category models.ConfigurationCategory, description string, public, editable bool, rules models.ValidationRules) models.Configuration {
		return models.Configuration{
			ID:           uuid.NewString(),
			Key:          key,
			Value:        value,
			Type:         typ,
			Category:     category,
			Description:  description,
			IsPublic:     public,
			IsEditable:   editable,
			Validation:   rules,
			DefaultValue: value,
			Tags:         []string{},
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	return []models.Configuration{
		build("site_name", models.StringValue("EduManage"), models.ConfigurationTypeString, models.CategorySystem,
			"Display name of the platform", true, true,
			models.ValidationRules{Required: true, Min: fptr(1), Max: fptr(100)}),
		build("site_description", models.StringValue("Course administration platform"), models.ConfigurationTypeString, models.CategorySystem,
			"Short description shown on public pages", true, true,
			models.ValidationRules{Min: fptr(0), Max: fptr(300)}),
		build("maintenance_mode", models.BoolValue(false), models.ConfigurationTypeBoolean, models.CategorySystem,
			"Blocks non-admin logins while enabled", true, true,
			models.ValidationRules{Required: true}),
		build("max_course_capacity", models.NumberValue(50), models.ConfigurationTypeNumber, models.CategoryCourse,
			"Default capacity for newly created courses", true, true,
			models.ValidationRules{Min: fptr(1), Max: fptr(500)}),
		build("course_approval_required", models.BoolValue(false), models.ConfigurationTypeBoolean, models.CategoryCourse,
			"New courses start as PENDING until an admin approves them", true, true,
			models.ValidationRules{}),
		build("enrollment_open", models.BoolValue(true), models.ConfigurationTypeBoolean, models.CategoryCourse,
			"Global gate for student enrollment", true, true,
			models.ValidationRules{}),
		build("student_registration_open", models.BoolValue(true), models.ConfigurationTypeBoolean, models.CategoryUser,
			"Allow self-service student registration", true, true,
			models.ValidationRules{}),
		build("teacher_registration_open", models.BoolValue(false), models.ConfigurationTypeBoolean, models.CategoryUser,
			"Allow self-service teacher registration", true, true,
			models.ValidationRules{}),
		build("assignment_late_penalty", models.NumberValue(10), models.ConfigurationTypeNumber, models.CategoryAssignment,
			"Percentage deducted from late submissions", true, true,
			models.ValidationRules{Min: fptr(0), Max: fptr(100)}),
		build("assignment_auto_grade", models.BoolValue(false), models.ConfigurationTypeBoolean, models.CategoryAssignment,
			"Automatically score submissions at full points on submit", true, true,
			models.ValidationRules{}),
		build("max_submission_attempts", models.NumberValue(3), models.ConfigurationTypeNumber, models.CategoryAssignment,
			"Resubmission limit per assignment and student", true, true,
			models.ValidationRules{Min: fptr(1), Max: fptr(10)}),
		build("grade_scale", models.ObjectValue(map[string]interface{}{"A": 90, "B": 80, "C": 70, "D": 60}), models.ConfigurationTypeObject, models.CategoryAssignment,
			"Letter grade thresholds applied to final scores", true, false,
			models.ValidationRules{Required: true}),
		build("attendance_required_percentage", models.NumberValue(75), models.ConfigurationTypeNumber, models.CategoryAttendance,
			"Minimum attendance rate a student must keep", true, true,
			models.ValidationRules{Min: fptr(0), Max: fptr(100)}),
		build("attendance_grace_period_minutes", models.NumberValue(15), models.ConfigurationTypeNumber, models.CategoryAttendance,
			"Minutes after session start before a student counts as late", true, true,
			models.ValidationRules{Min: fptr(0), Max: fptr(60)}),
		build("email_notifications_enabled", models.BoolValue(true), models.ConfigurationTypeBoolean, models.CategoryNotification,
			"Master switch for outbound email notifications", true, true,
			models.ValidationRules{}),
		build("notification_channels", models.StringsValue([]string{"email", "in_app"}), models.ConfigurationTypeArray, models.CategoryNotification,
			"Enabled notification delivery channels", true, true,
			models.ValidationRules{Options: []string{"email", "sms", "in_app", "push"}}),
		build("email_from_address", models.StringValue("noreply@edumanage.io"), models.ConfigurationTypeString, models.CategoryEmail,
			"Sender address for system email", false, true,
			models.ValidationRules{Pattern: `^[^@\s]+@[^@\s]+\.[^@\s]+$`}),
		build("email_footer_text", models.StringValue("EduManage - Course administration"), models.ConfigurationTypeString, models.CategoryEmail,
			"Footer appended to system email", false, true,
			models.ValidationRules{Min: fptr(0), Max: fptr(200)}),
		build("max_file_size", models.NumberValue(10485760), models.ConfigurationTypeNumber, models.CategoryFileUpload,
			"Upload size limit in bytes", true, true,
			models.ValidationRules{Min: fptr(1), Max: fptr(104857600)}),
		build("allowed_file_types", models.StringsValue([]string{"pdf", "doc", "docx", "png", "jpg", "zip"}), models.ConfigurationTypeArray, models.CategoryFileUpload,
			"Permitted upload file extensions", true, true,
			models.ValidationRules{Options: []string{"pdf", "doc", "docx", "ppt", "pptx", "xls", "xlsx", "png", "jpg", "jpeg", "gif", "zip", "txt"}}),
		build("password_min_length", models.NumberValue(8), models.ConfigurationTypeNumber, models.CategorySecurity,
			"Minimum accepted password length", true, true,
			models.ValidationRules{Min: fptr(6), Max: fptr(128)}),
		build("max_login_attempts", models.NumberValue(5), models.ConfigurationTypeNumber, models.CategorySecurity,
			"Failed login attempts before throttling", false, true,
			models.ValidationRules{Min: fptr(3), Max: fptr(10)}),
		build("theme_primary_color", models.StringValue("#1e88e5"), models.ConfigurationTypeString, models.CategoryUI,
			"Primary UI accent color", true, true,
			models.ValidationRules{Pattern: `^#[0-9a-fA-F]{6}$`}),
		build("items_per_page", models.NumberValue(20), models.ConfigurationTypeNumber, models.CategoryUI,
			"Default page size for list views", true, true,
			models.ValidationRules{Min: fptr(5), Max: fptr(100)}),
		build("satisfaction_weights", models.ObjectValue(map[string]interface{}{"grade": 0.6, "attendance": 0.4}), models.ConfigurationTypeJSON, models.CategoryAnalytics,
			"Blend weights for the course satisfaction score", false, false,
			models.ValidationRules{Required: true}),
	}
}

func fptr(f float64) *float64 {
	return &f
}
