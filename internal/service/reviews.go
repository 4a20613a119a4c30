// reviews.go — решения по версиям документов.
//
// Решение — строка с уникальным ключом по версии документа. Два конкурентных
// решения по одной версии гонятся за эту вставку: одно проходит, второе
// получает already_reviewed. После фиксации решения стадия заявки
// пересчитывается отдельной транзакцией.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/repository"
)

// ReviewService — решения по версиям документов.
type ReviewService struct {
	exec     *Executor
	pipeline *PipelineService
	logger   *slog.Logger
}

// NewReviewService создаёт сервис решений по документам.
func NewReviewService(exec *Executor, pipeline *PipelineService, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		exec:     exec,
		pipeline: pipeline,
		logger:   logger.With(slog.String("component", "reviews")),
	}
}

// ReviewInput — тело запроса решения.
type ReviewInput struct {
	Reason string `json:"reason,omitempty"`
}

// Decide записывает решение по версии документа.
//
// Ошибки: forbidden, validation_error, not_found, already_reviewed.
func (s *ReviewService) Decide(ctx context.Context, actor Actor, key, applicationID, documentID, versionID string,
	decision model.ReviewDecision, in ReviewInput) (Response, error) {
	if err := requireKey(key); err != nil {
		return Response{}, err
	}
	if !actor.Privileged() {
		return Response{}, ErrForbidden.WithMessage("решение по документу требует роли staff или admin")
	}
	if decision != model.DecisionAccepted && decision != model.DecisionRejected {
		return Response{}, validationError("decision должен быть accepted или rejected")
	}
	in.Reason = strings.TrimSpace(in.Reason)

	fp, err := Fingerprint(map[string]any{
		"applicationId": applicationID,
		"documentId":    documentID,
		"versionId":     versionID,
		"decision":      string(decision),
		"reason":        in.Reason,
	})
	if err != nil {
		return Response{}, validationError(err.Error())
	}

	var outcome *reviewOutcome
	resp, err := s.exec.Execute(ctx, operation{
		Key:         key,
		Scope:       scopeFor("documents.review", actor),
		Fingerprint: fp,
		Run: func(ctx context.Context, r repository.Repositories) (int, any, error) {
			outcome = nil
			doc, v, err := r.Documents.GetVersion(ctx, applicationID, documentID, versionID)
			if err != nil {
				return 0, nil, err
			}

			review := &model.Review{
				DocumentVersionID: v.ID,
				Decision:          decision,
				ReviewerID:        actor.Subject,
			}
			if in.Reason != "" {
				review.Reason = &in.Reason
			}
			meta := map[string]any{
				"applicationId": applicationID,
				"documentId":    doc.ID,
				"documentType":  doc.DocumentType,
				"version":       v.Version,
				"decision":      string(decision),
			}

			inserted, err := r.Reviews.Insert(ctx, review)
			if err != nil {
				return 0, nil, err
			}
			if !inserted {
				// Проигравший гонку фиксируется в аудите вместе с ответом 409
				if err := record(ctx, r, actor, model.ActionDocumentReviewed, model.TargetDocument, v.ID, false, meta); err != nil {
					return 0, nil, err
				}
				return 0, nil, ErrAlreadyReviewed.WithDetails(map[string]any{"versionId": v.ID})
			}
			if err := record(ctx, r, actor, model.ActionDocumentReviewed, model.TargetDocument, v.ID, true, meta); err != nil {
				return 0, nil, err
			}

			outcome = &reviewOutcome{
				ApplicationID:  applicationID,
				DocumentType:   doc.DocumentType,
				Decision:       decision,
				CurrentVersion: v.Version == doc.CurrentVersion,
			}
			return http.StatusOK, ReviewView{
				ID:            review.ID,
				ApplicationID: applicationID,
				DocumentID:    doc.ID,
				VersionID:     v.ID,
				Decision:      string(decision),
				ReviewerID:    actor.Subject,
				Reason:        review.Reason,
				CreatedAt:     review.CreatedAt,
			}, nil
		},
	})
	if err != nil {
		return Response{}, err
	}

	if !resp.Replayed && outcome != nil {
		s.logger.Info("Решение по документу принято",
			slog.String("application_id", applicationID),
			slog.String("version_id", versionID),
			slog.String("decision", string(decision)),
			slog.String("reviewer", actor.Subject),
		)
		s.pipeline.AutoAdvance(ctx, actor, *outcome)
	}
	return resp, nil
}
