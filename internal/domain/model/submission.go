package model

import "time"

// SubmissionStatus — статус отправки кредитору.
type SubmissionStatus string

const (
	SubmissionSubmitted     SubmissionStatus = "submitted"
	SubmissionFailed        SubmissionStatus = "failed"
	SubmissionPendingManual SubmissionStatus = "pending_manual"
)

// Причины неудачной отправки.
const (
	FailureMissingDocuments       = "missing_documents"
	FailureMissingSubmissionEmail = "missing_submission_email"
	FailureLenderTimeout          = "lender_timeout"
	FailureLenderError            = "lender_error"
)

// LenderSubmission — попытка передачи заявки кредитору.
type LenderSubmission struct {
	ID              string
	ApplicationID   string
	LenderID        string
	LenderProductID string
	Status          SubmissionStatus
	FailureReason   *string
	IdempotencyKey  string
	CreatedBy       string
	Payload         SubmissionPayload
	// ExternalReference — идентификатор у кредитора (для API)
	ExternalReference *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SubmissionPayload — снимок отправленных данных.
type SubmissionPayload struct {
	ApplicationID   string         `json:"applicationId"`
	ProductCategory string         `json:"productCategory"`
	RequestedAmount *string        `json:"requestedAmount,omitempty"`
	LenderName      string         `json:"lenderName"`
	ProductName     string         `json:"productName"`
	Method          string         `json:"method"`
	Attachments     []Attachment   `json:"attachments"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Attachment — документ в пакете отправки.
type Attachment struct {
	DocumentID   string `json:"documentId"`
	DocumentType string `json:"documentType"`
	VersionID    string `json:"versionId"`
	Version      int    `json:"version"`
	FileName     string `json:"fileName"`
	ContentType  string `json:"contentType"`
	SizeBytes    int64  `json:"sizeBytes"`
	BlobKey      string `json:"blobKey"`
	Checksum     string `json:"checksum"`
}

// RetryStatus — статус записи журнала повторов.
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryCompleted RetryStatus = "completed"
	RetryCanceled  RetryStatus = "canceled"
)

// SubmissionRetry — запись журнала повторов, одна на отправку.
type SubmissionRetry struct {
	ID            string
	SubmissionID  string
	Status        RetryStatus
	AttemptCount  int
	NextAttemptAt *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
