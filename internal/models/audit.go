package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionRegister       = "REGISTER"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionConfigCreate   = "CONFIG_CREATE"
	AuditActionConfigUpdate   = "CONFIG_UPDATE"
	AuditActionConfigDelete   = "CONFIG_DELETE"
	AuditActionConfigBulk     = "CONFIG_BULK_UPDATE"
	AuditActionConfigReset    = "CONFIG_RESET"
	AuditActionCourseCreate   = "COURSE_CREATE"
	AuditActionCourseUpdate   = "COURSE_UPDATE"
	AuditActionCourseApprove  = "COURSE_APPROVE"
	AuditActionCourseDelete   = "COURSE_DELETE"
	AuditActionEnroll         = "ENROLLMENT_CREATE"
	AuditActionEnrollDrop     = "ENROLLMENT_DROP"
	AuditActionEnrollComplete = "ENROLLMENT_COMPLETE"
	AuditActionAssignCreate   = "ASSIGNMENT_CREATE"
	AuditActionAssignUpdate   = "ASSIGNMENT_UPDATE"
	AuditActionAssignDelete   = "ASSIGNMENT_DELETE"
	AuditActionSubmit         = "SUBMISSION_CREATE"
	AuditActionSubmitGrade    = "SUBMISSION_GRADE"
	AuditActionGradeUpsert    = "GRADE_UPSERT"

	AuditActionAttendanceUpsert = "ATTENDANCE_UPSERT"
	AuditActionAttendanceDelete = "ATTENDANCE_DELETE"
	AuditActionMessageSend      = "MESSAGE_SEND"
	AuditActionMessageDelete    = "MESSAGE_DELETE"
	AuditActionUploadCreate     = "UPLOAD_CREATE"
	AuditActionUploadDelete     = "UPLOAD_DELETE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestMeta carries per-request client details that services attach to
// audit log entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}
