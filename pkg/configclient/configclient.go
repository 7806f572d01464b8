// Package configclient consumes the public configuration projection exposed
// by the API. Services embed it to read live settings without a database
// connection; every lookup degrades to a built-in default so a missing or
// unreachable server never fails a consumer.
package configclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const publicPath = "/api/configurations/public"

// Options configures a Client.
type Options struct {
	BaseURL    string
	Category   string // optional category filter for the projection
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches and caches the public configuration snapshot. A client
// starts out holding the built-in defaults; Load and Refresh swap in fresh
// snapshots, Current returns the last one loaded.
type Client struct {
	http     *http.Client
	baseURL  string
	category string
	logger   *zap.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// New constructs a client. The base URL names the API host, without the
// configurations path.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		category: opts.Category,
		logger:   logger,
		current:  Defaults(),
	}
}

// Load fetches the projection and makes it the current snapshot. On any
// transport or decode failure it logs a warning and falls back to the
// built-in defaults; Load never returns nil.
func (c *Client) Load(ctx context.Context) *Snapshot {
	snap, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("failed to load public configuration, using defaults", zap.Error(err))
		snap = Defaults()
	}
	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()
	return snap
}

// Refresh re-fetches the projection and returns the new snapshot. Previously
// returned snapshots are unaffected.
func (c *Client) Refresh(ctx context.Context) *Snapshot {
	return c.Load(ctx)
}

// Current returns the last loaded snapshot, the defaults when nothing has
// been loaded yet.
func (c *Client) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

type envelope struct {
	Data  map[string]interface{} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) fetch(ctx context.Context) (*Snapshot, error) {
	endpoint := c.baseURL + publicPath
	if c.category != "" {
		endpoint += "?category=" + url.QueryEscape(c.category)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("server error %s: %s", env.Error.Code, env.Error.Message)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("empty projection from %s", endpoint)
	}
	return &Snapshot{values: env.Data, fetchedAt: time.Now().UTC()}, nil
}

// Snapshot is an immutable view of the projection. Consumers keep a snapshot
// as long as they like; staleness persists until an explicit Refresh.
type Snapshot struct {
	values    map[string]interface{}
	fetchedAt time.Time
	fallback  bool
}

// Defaults returns the built-in snapshot. Its values mirror the seeded
// configuration set so offline behaviour matches a freshly provisioned
// server.
func Defaults() *Snapshot {
	return &Snapshot{values: defaultValues(), fetchedAt: time.Time{}, fallback: true}
}

// Fallback reports whether the snapshot is the built-in default set rather
// than a server response.
func (s *Snapshot) Fallback() bool {
	return s.fallback
}

// FetchedAt returns when the snapshot was fetched, zero for the defaults.
func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Get returns the raw value for key, or fallback when absent. The returned
// value must not be mutated.
func (s *Snapshot) Get(key string, fallback interface{}) interface{} {
	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

// GetAll returns the requested keys that are present in the snapshot.
func (s *Snapshot) GetAll(keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if v, ok := s.values[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Text returns a string value, coercing scalars where possible.
func (s *Snapshot) Text(key, fallback string) string {
	switch v := s.values[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fallback
}

// Number returns a numeric value, coercing numeric strings.
func (s *Snapshot) Number(key string, fallback float64) float64 {
	switch v := s.values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Bool returns a boolean value, accepting the usual string spellings.
func (s *Snapshot) Bool(key string, fallback bool) bool {
	switch v := s.values[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case float64:
		return v != 0
	}
	return fallback
}

// Strings returns an array value as a string slice. Non-string elements are
// skipped.
func (s *Snapshot) Strings(key string, fallback []string) []string {
	arr, ok := s.values[key].([]interface{})
	if !ok {
		return fallback
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Typed getters, grouped by concern. Each falls back to the seeded default.

func (s *Snapshot) SiteName() string {
	return s.Text("site_name", "EduManage")
}

func (s *Snapshot) MaintenanceMode() bool {
	return s.Bool("maintenance_mode", false)
}

func (s *Snapshot) MaxCourseCapacity() int {
	return int(s.Number("max_course_capacity", 50))
}

func (s *Snapshot) CourseApprovalRequired() bool {
	return s.Bool("course_approval_required", false)
}

func (s *Snapshot) EnrollmentOpen() bool {
	return s.Bool("enrollment_open", true)
}

func (s *Snapshot) StudentRegistrationOpen() bool {
	return s.Bool("student_registration_open", true)
}

func (s *Snapshot) TeacherRegistrationOpen() bool {
	return s.Bool("teacher_registration_open", false)
}

func (s *Snapshot) AssignmentLatePenalty() float64 {
	return s.Number("assignment_late_penalty", 10)
}

func (s *Snapshot) AutoGradeEnabled() bool {
	return s.Bool("assignment_auto_grade", false)
}

func (s *Snapshot) MaxSubmissionAttempts() int {
	return int(s.Number("max_submission_attempts", 3))
}

func (s *Snapshot) AttendanceRequiredPercentage() float64 {
	return s.Number("attendance_required_percentage", 75)
}

func (s *Snapshot) EmailNotificationsEnabled() bool {
	return s.Bool("email_notifications_enabled", true)
}

func (s *Snapshot) NotificationChannels() []string {
	return s.Strings("notification_channels", []string{"email", "in_app"})
}

func (s *Snapshot) MaxFileSize() int64 {
	return int64(s.Number("max_file_size", 10485760))
}

func (s *Snapshot) AllowedFileTypes() []string {
	return s.Strings("allowed_file_types", []string{"pdf", "doc", "docx", "png", "jpg", "zip"})
}

func (s *Snapshot) PasswordMinLength() int {
	return int(s.Number("password_min_length", 8))
}

func (s *Snapshot) MaxLoginAttempts() int {
	return int(s.Number("max_login_attempts", 5))
}

func (s *Snapshot) ThemePrimaryColor() string {
	return s.Text("theme_primary_color", "#1e88e5")
}

func (s *Snapshot) ItemsPerPage() int {
	return int(s.Number("items_per_page", 20))
}

func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"site_name":                       "EduManage",
		"site_description":                "Course administration platform",
		"maintenance_mode":                false,
		"max_course_capacity":             float64(50),
		"course_approval_required":        false,
		"enrollment_open":                 true,
		"student_registration_open":       true,
		"teacher_registration_open":       false,
		"assignment_late_penalty":         float64(10),
		"assignment_auto_grade":           false,
		"max_submission_attempts":         float64(3),
		"grade_scale":                     map[string]interface{}{"A": float64(90), "B": float64(80), "C": float64(70), "D": float64(60)},
		"attendance_required_percentage":  float64(75),
		"attendance_grace_period_minutes": float64(15),
		"email_notifications_enabled":     true,
		"notification_channels":           []interface{}{"email", "in_app"},
		"email_from_address":              "noreply@edumanage.io",
		"email_footer_text":               "EduManage - Course administration",
		"max_file_size":                   float64(10485760),
		"allowed_file_types":              []interface{}{"pdf", "doc", "docx", "png", "jpg", "zip"},
		"password_min_length":             float64(8),
		"max_login_attempts":              float64(5),
		"theme_primary_color":             "#1e88e5",
		"items_per_page":                  float64(20),
		"satisfaction_weights":            map[string]interface{}{"grade": 0.6, "attendance": 0.4},
	}
}
