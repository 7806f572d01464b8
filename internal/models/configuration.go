package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/lib/pq"
)

// ConfigurationType declares the expected shape of a configuration value.
type ConfigurationType string

const (
	ConfigurationTypeString  ConfigurationType = "string"
	ConfigurationTypeNumber  ConfigurationType = "number"
	ConfigurationTypeBoolean ConfigurationType = "boolean"
	ConfigurationTypeArray   ConfigurationType = "array"
	ConfigurationTypeObject  ConfigurationType = "object"
	ConfigurationTypeJSON    ConfigurationType = "json"
)

// ConfigurationTypes lists every supported type in declaration order.
var ConfigurationTypes = []ConfigurationType{
	ConfigurationTypeString,
	ConfigurationTypeNumber,
	ConfigurationTypeBoolean,
	ConfigurationTypeArray,
	ConfigurationTypeObject,
	ConfigurationTypeJSON,
}

// Valid reports whether t is one of the supported types.
func (t ConfigurationType) Valid() bool {
	for _, known := range ConfigurationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ConfigurationCategory groups configuration entries by concern.
type ConfigurationCategory string

const (
	CategorySystem       ConfigurationCategory = "system"
	CategoryCourse       ConfigurationCategory = "course"
	CategoryUser         ConfigurationCategory = "user"
	CategoryAssignment   ConfigurationCategory = "assignment"
	CategoryAttendance   ConfigurationCategory = "attendance"
	CategoryNotification ConfigurationCategory = "notification"
	CategoryEmail        ConfigurationCategory = "email"
	CategoryFileUpload   ConfigurationCategory = "file_upload"
	CategorySecurity     ConfigurationCategory = "security"
	CategoryUI           ConfigurationCategory = "ui"
	CategoryAnalytics    ConfigurationCategory = "analytics"
)

// ConfigurationCategories lists every category in declaration order.
var ConfigurationCategories = []ConfigurationCategory{
	CategorySystem,
	CategoryCourse,
	CategoryUser,
	CategoryAssignment,
	CategoryAttendance,
	CategoryNotification,
	CategoryEmail,
	CategoryFileUpload,
	CategorySecurity,
	CategoryUI,
	CategoryAnalytics,
}

// Valid reports whether c is one of the supported categories.
func (c ConfigurationCategory) Valid() bool {
	for _, known := range ConfigurationCategories {
		if c == known {
			return true
		}
	}
	return false
}

// DisplayName renders the category for humans: underscores become spaces and
// the first letter is upper-cased ("file_upload" -> "File upload").
func (c ConfigurationCategory) DisplayName() string {
	name := strings.ReplaceAll(string(c), "_", " ")
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// ValueKind discriminates the dynamic payload held by a ConfigValue.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "boolean"
	KindArray  ValueKind = "array"
	KindObject ValueKind = "object"
)

// ConfigValue is a tagged union over the JSON shapes a configuration value
// can take. The kind is inferred from the JSON token on decode, so a value
// survives storage and transport without losing its shape.
type ConfigValue struct {
	kind    ValueKind
	str     string
	num     float64
	boolean bool
	arr     []interface{}
	obj     json.RawMessage
}

// NullValue returns the JSON null value.
func NullValue() ConfigValue {
	return ConfigValue{kind: KindNull}
}

// StringValue wraps a string.
func StringValue(s string) ConfigValue {
	return ConfigValue{kind: KindString, str: s}
}

// NumberValue wraps a number.
func NumberValue(n float64) ConfigValue {
	return ConfigValue{kind: KindNumber, num: n}
}

// BoolValue wraps a boolean.
func BoolValue(b bool) ConfigValue {
	return ConfigValue{kind: KindBool, boolean: b}
}

// ArrayValue wraps a JSON array.
func ArrayValue(items []interface{}) ConfigValue {
	if items == nil {
		items = []interface{}{}
	}
	return ConfigValue{kind: KindArray, arr: items}
}

// StringsValue wraps a string slice as a JSON array.
func StringsValue(items []string) ConfigValue {
	arr := make([]interface{}, len(items))
	for i, item := range items {
		arr[i] = item
	}
	return ArrayValue(arr)
}

// ObjectValue wraps a map as a JSON object. Marshal failures degrade to the
// empty object.
func ObjectValue(m map[string]interface{}) ConfigValue {
	raw, err := json.Marshal(m)
	if err != nil || len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return ConfigValue{kind: KindObject, obj: raw}
}

// Kind exposes the union discriminator.
func (v ConfigValue) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is JSON null (or was never set).
func (v ConfigValue) IsNull() bool {
	return v.Kind() == KindNull
}

// Text returns the string payload when the value is a string.
func (v ConfigValue) Text() (string, bool) {
	return v.str, v.Kind() == KindString
}

// Number returns the numeric payload when the value is a number.
func (v ConfigValue) Number() (float64, bool) {
	return v.num, v.Kind() == KindNumber
}

// Bool returns the boolean payload when the value is a boolean.
func (v ConfigValue) Bool() (bool, bool) {
	return v.boolean, v.Kind() == KindBool
}

// Array returns the decoded elements when the value is an array.
func (v ConfigValue) Array() ([]interface{}, bool) {
	return v.arr, v.Kind() == KindArray
}

// Interface returns the value as plain Go data suitable for JSON encoding.
func (v ConfigValue) Interface() interface{} {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.boolean
	case KindArray:
		return v.arr
	case KindObject:
		var decoded interface{}
		if err := json.Unmarshal(v.obj, &decoded); err != nil {
			return map[string]interface{}{}
		}
		return decoded
	default:
		return nil
	}
}

// MarshalJSON encodes the payload as its natural JSON shape.
func (v ConfigValue) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.boolean)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return append([]byte(nil), v.obj...), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON infers the kind from the leading JSON token.
func (v *ConfigValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = NullValue()
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode string value: %w", err)
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return fmt.Errorf("decode boolean value: %w", err)
		}
		*v = BoolValue(b)
	case '[':
		var arr []interface{}
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return fmt.Errorf("decode array value: %w", err)
		}
		*v = ArrayValue(arr)
	case '{':
		raw := make(json.RawMessage, len(trimmed))
		copy(raw, trimmed)
		*v = ConfigValue{kind: KindObject, obj: raw}
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("decode numeric value: %w", err)
		}
		*v = NumberValue(n)
	}
	return nil
}

// Value implements driver.Valuer, storing the JSON encoding in a jsonb column.
func (v ConfigValue) Value() (driver.Value, error) {
	encoded, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// Scan implements sql.Scanner. SQL NULL scans as the null value.
func (v *ConfigValue) Scan(src interface{}) error {
	switch data := src.(type) {
	case nil:
		*v = NullValue()
		return nil
	case []byte:
		return v.UnmarshalJSON(data)
	case string:
		return v.UnmarshalJSON([]byte(data))
	default:
		return fmt.Errorf("unsupported configuration value source %T", src)
	}
}

// Formatted projects the stored value through the declared type lens. The
// projection never mutates the stored value and never fails; unconvertible
// shapes fall back to the type's zero.
func (v ConfigValue) Formatted(t ConfigurationType) interface{} {
	switch t {
	case ConfigurationTypeJSON:
		if s, ok := v.Text(); ok {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
			return s
		}
		return v.Interface()
	case ConfigurationTypeArray:
		if arr, ok := v.Array(); ok {
			return arr
		}
		return []interface{}{}
	case ConfigurationTypeNumber:
		return v.coerceNumber()
	case ConfigurationTypeBoolean:
		return v.coerceBool()
	default:
		return v.coerceString()
	}
}

func (v ConfigValue) coerceNumber() float64 {
	switch v.Kind() {
	case KindNumber:
		return v.num
	case KindString:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64); err == nil {
			return n
		}
		return 0
	case KindBool:
		if v.boolean {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (v ConfigValue) coerceBool() bool {
	switch v.Kind() {
	case KindBool:
		return v.boolean
	case KindNumber:
		return v.num != 0
	case KindString:
		return v.str != ""
	case KindArray, KindObject:
		return true
	default:
		return false
	}
}

func (v ConfigValue) coerceString() string {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindArray, KindObject:
		encoded, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return ""
	}
}

// ValidationRules constrains the values a configuration entry accepts. Min
// and Max bound numbers directly and string lengths for string entries.
type ValidationRules struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// Value implements driver.Valuer for the jsonb validation column.
func (r ValidationRules) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *ValidationRules) Scan(src interface{}) error {
	switch data := src.(type) {
	case nil:
		*r = ValidationRules{}
		return nil
	case []byte:
		return json.Unmarshal(data, r)
	case string:
		return json.Unmarshal([]byte(data), r)
	default:
		return fmt.Errorf("unsupported validation rules source %T", src)
	}
}

// ValidateValue checks a candidate value against the declared type and rules,
// returning every violation rather than stopping at the first.
func ValidateValue(v ConfigValue, t ConfigurationType, rules ValidationRules) []string {
	var violations []string

	if rules.Required && isMissing(v) {
		violations = append(violations, "Value is required")
	}

	switch t {
	case ConfigurationTypeNumber:
		n, ok := v.Number()
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			violations = append(violations, "Value must be a number")
			break
		}
		if rules.Min != nil && n < *rules.Min {
			violations = append(violations, fmt.Sprintf("Value must be at least %s", formatBound(*rules.Min)))
		}
		if rules.Max != nil && n > *rules.Max {
			violations = append(violations, fmt.Sprintf("Value must be at most %s", formatBound(*rules.Max)))
		}
	case ConfigurationTypeString:
		s, ok := v.Text()
		if !ok {
			violations = append(violations, "Value must be a string")
			break
		}
		length := utf8.RuneCountInString(s)
		if rules.Min != nil && length < int(*rules.Min) {
			violations = append(violations, fmt.Sprintf("Value must be at least %d characters", int(*rules.Min)))
		}
		if rules.Max != nil && length > int(*rules.Max) {
			violations = append(violations, fmt.Sprintf("Value must be at most %d characters", int(*rules.Max)))
		}
		if rules.Pattern != "" {
			re, err := regexp.Compile("^(?:" + rules.Pattern + ")$")
			if err != nil {
				violations = append(violations, fmt.Sprintf("Invalid validation pattern %s", rules.Pattern))
			} else if !re.MatchString(s) {
				violations = append(violations, fmt.Sprintf("Value does not match pattern %s", rules.Pattern))
			}
		}
	case ConfigurationTypeArray:
		arr, ok := v.Array()
		if !ok {
			violations = append(violations, "Value must be an array")
			break
		}
		if len(rules.Options) > 0 {
			allowed := make(map[string]struct{}, len(rules.Options))
			for _, opt := range rules.Options {
				allowed[opt] = struct{}{}
			}
			for _, item := range arr {
				rendered := renderElement(item)
				if _, ok := allowed[rendered]; !ok {
					violations = append(violations, fmt.Sprintf("Value %q is not an allowed option", rendered))
				}
			}
		}
	}

	return violations
}

func isMissing(v ConfigValue) bool {
	if v.IsNull() {
		return true
	}
	if s, ok := v.Text(); ok {
		return s == ""
	}
	return false
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func renderElement(item interface{}) string {
	switch typed := item.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case nil:
		return "null"
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(encoded)
	}
}

// Configuration represents a persisted configuration entry. Key is unique and
// immutable; Version starts at 1 and increments on every successful mutation.
type Configuration struct {
	ID             string                `db:"id" json:"id"`
	Key            string                `db:"key" json:"key"`
	Value          ConfigValue           `db:"value" json:"value"`
	Type           ConfigurationType     `db:"type" json:"type"`
	Category       ConfigurationCategory `db:"category" json:"category"`
	Description    string                `db:"description" json:"description"`
	IsPublic       bool                  `db:"is_public" json:"is_public"`
	IsEditable     bool                  `db:"is_editable" json:"is_editable"`
	Validation     ValidationRules       `db:"validation" json:"validation"`
	DefaultValue   ConfigValue           `db:"default_value" json:"default_value"`
	LastModifiedBy *string               `db:"last_modified_by" json:"last_modified_by,omitempty"`
	Tags           pq.StringArray        `db:"tags" json:"tags"`
	Version        int                   `db:"version" json:"version"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at" json:"updated_at"`
}

// FormattedValue projects the stored value through the entry's declared type.
func (c *Configuration) FormattedValue() interface{} {
	return c.Value.Formatted(c.Type)
}

// ConfigurationFilter captures filtering criteria for listing configurations.
type ConfigurationFilter struct {
	Category *ConfigurationCategory
	IsPublic *bool
	Search   string
	Page     int
	PageSize int
}

// CategorySummary aggregates entry counts per category.
type CategorySummary struct {
	Category    ConfigurationCategory `db:"category" json:"category"`
	DisplayName string                `db:"-" json:"display_name"`
	Count       int                   `db:"count" json:"count"`
	PublicCount int                   `db:"public_count" json:"public_count"`
}
