package model

import "time"

// Действия аудита.
const (
	ActionApplicationCreated      = "application_created"
	ActionDocumentUploaded        = "document_version_uploaded"
	ActionDocumentReviewed        = "document_version_reviewed"
	ActionPipelineTransition      = "pipeline_transition"
	ActionAdminOverride           = "admin_override"
	ActionSubmissionCreated       = "lender_submission_created"
	ActionSubmissionFailed        = "lender_submission_failed"
	ActionSubmissionPendingManual = "lender_submission_pending_manual"
	ActionSubmissionRetried       = "lender_submission_retried"
	ActionRetryCanceled           = "lender_submission_retry_canceled"
	ActionLenderUpserted          = "lender_upserted"
	ActionRequirementAdded        = "document_requirement_added"
	ActionRoleGranted             = "role_granted"
	ActionRoleRevoked             = "role_revoked"
)

// Типы целей аудита.
const (
	TargetApplication = "application"
	TargetDocument    = "document_version"
	TargetSubmission  = "lender_submission"
	TargetLender      = "lender"
	TargetSubject     = "subject"
)

// AuditEvent — запись журнала аудита (append-only).
// PublishedAt == nil — событие ещё не отправлено во внешнюю шину.
type AuditEvent struct {
	ID          int64
	Actor       string
	Action      string
	TargetType  string
	TargetID    string
	Success     bool
	Metadata    map[string]any
	CreatedAt   time.Time
	PublishedAt *time.Time
}
