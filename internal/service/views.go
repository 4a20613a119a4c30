// views.go — JSON-представления ответов API.
package service

import (
	"time"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/requirements"
)

// ApplicationView — заявка в ответе API.
type ApplicationView struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"ownerId"`
	ProductCategory string               `json:"productCategory"`
	Stage           string               `json:"stage"`
	LenderID        *string              `json:"lenderId,omitempty"`
	LenderProductID *string              `json:"lenderProductId,omitempty"`
	RequestedAmount *string              `json:"requestedAmount,omitempty"`
	Metadata        map[string]any       `json:"metadata"`
	Documents       []DocumentStatusView `json:"documents,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func toApplicationView(a *model.Application) ApplicationView {
	v := ApplicationView{
		ID:              a.ID,
		OwnerID:         a.OwnerID,
		ProductCategory: a.ProductCategory,
		Stage:           a.Stage.String(),
		LenderID:        a.LenderID,
		LenderProductID: a.LenderProductID,
		Metadata:        a.Metadata,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.RequestedAmount != nil {
		s := a.RequestedAmount.StringFixed(2)
		v.RequestedAmount = &s
	}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	return v
}

// DocumentStatusView — сводка по документу заявки.
type DocumentStatusView struct {
	DocumentID       string  `json:"documentId"`
	DocumentType     string  `json:"documentType"`
	CurrentVersion   int     `json:"currentVersion"`
	CurrentDecision  *string `json:"currentDecision,omitempty"`
	AcceptedVersions int     `json:"acceptedVersions"`
}

func toDocumentStatusViews(statuses []model.DocumentStatus) []DocumentStatusView {
	out := make([]DocumentStatusView, 0, len(statuses))
	for _, s := range statuses {
		v := DocumentStatusView{
			DocumentID:       s.DocumentID,
			DocumentType:     s.DocumentType,
			CurrentVersion:   s.CurrentVersion,
			AcceptedVersions: s.AcceptedVersions,
		}
		if s.CurrentDecision != nil {
			d := string(*s.CurrentDecision)
			v.CurrentDecision = &d
		}
		out = append(out, v)
	}
	return out
}

// DocumentVersionView — загруженная версия документа.
type DocumentVersionView struct {
	ApplicationID string    `json:"applicationId"`
	DocumentID    string    `json:"documentId"`
	VersionID     string    `json:"versionId"`
	DocumentType  string    `json:"documentType"`
	Version       int       `json:"version"`
	FileName      string    `json:"fileName"`
	ContentType   string    `json:"contentType"`
	SizeBytes     int64     `json:"sizeBytes"`
	Checksum      string    `json:"checksum"`
	UploadedBy    string    `json:"uploadedBy"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ReviewView — решение по версии документа.
type ReviewView struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	DocumentID    string    `json:"documentId"`
	VersionID     string    `json:"versionId"`
	Decision      string    `json:"decision"`
	ReviewerID    string    `json:"reviewerId"`
	Reason        *string   `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TransitionView — выполненный переход стадии.
type TransitionView struct {
	ApplicationID string `json:"applicationId"`
	From          string `json:"from"`
	To            string `json:"to"`
	Trigger       string `json:"trigger"`
	Forced        bool   `json:"forced"`
}

// SatisfactionView — текущая удовлетворённость требований к документам.
type SatisfactionView struct {
	ApplicationID string              `json:"applicationId"`
	Stage         string              `json:"stage"`
	Satisfied     bool                `json:"satisfied"`
	Missing       []string            `json:"missing"`
	Items         []requirements.Item `json:"items"`
}

// RetryView — запись журнала повторов.
type RetryView struct {
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
}

// SubmissionView — отправка кредитору.
type SubmissionView struct {
	ID                string                  `json:"id"`
	ApplicationID     string                  `json:"applicationId"`
	LenderID          string                  `json:"lenderId"`
	LenderProductID   string                  `json:"lenderProductId"`
	Status            string                  `json:"status"`
	FailureReason     *string                 `json:"failureReason,omitempty"`
	ExternalReference *string                 `json:"externalReference,omitempty"`
	Payload           model.SubmissionPayload `json:"payload"`
	Retry             *RetryView              `json:"retry,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

func toSubmissionView(s *model.LenderSubmission, rt *model.SubmissionRetry) SubmissionView {
	v := SubmissionView{
		ID:                s.ID,
		ApplicationID:     s.ApplicationID,
		LenderID:          s.LenderID,
		LenderProductID:   s.LenderProductID,
		Status:            string(s.Status),
		FailureReason:     s.FailureReason,
		ExternalReference: s.ExternalReference,
		Payload:           s.Payload,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if v.Payload.Attachments == nil {
		v.Payload.Attachments = []model.Attachment{}
	}
	if rt != nil {
		v.Retry = &RetryView{
			Status:        string(rt.Status),
			AttemptCount:  rt.AttemptCount,
			NextAttemptAt: rt.NextAttemptAt,
			LastError:     rt.LastError,
		}
	}
	return v
}

// AuditEventView — событие журнала аудита.
type AuditEventView struct {
	ID         int64          `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Success    bool           `json:"success"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"createdAt"`
}
