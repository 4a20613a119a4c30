// Пакет handlers — HTTP-обработчики loandesk.
// handler.go — основной обработчик API: объединяет доменные обработчики
// и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/service"
)

// Applications — операции с заявками (*service.ApplicationService).
type Applications interface {
	Create(ctx context.Context, actor service.Actor, key string, in service.CreateApplicationInput) (service.Response, error)
	CreatePublic(ctx context.Context, in service.PublicApplicationInput) (service.Response, error)
	Get(ctx context.Context, actor service.Actor, id string) (service.ApplicationView, error)
	Audit(ctx context.Context, actor service.Actor, id string, limit int) ([]service.AuditEventView, error)
}

// Documents — загрузка документов (*service.DocumentService).
type Documents interface {
	Upload(ctx context.Context, actor service.Actor, key, applicationID string, in service.UploadInput) (service.Response, error)
}

// Reviews — решения по версиям документов (*service.ReviewService).
type Reviews interface {
	Decide(ctx context.Context, actor service.Actor, key, applicationID, documentID, versionID string,
		decision model.ReviewDecision, in service.ReviewInput) (service.Response, error)
}

// Pipeline — переходы стадий и требования (*service.PipelineService).
type Pipeline interface {
	Transition(ctx context.Context, actor service.Actor, key, applicationID string, in service.TransitionInput) (service.Response, error)
	Satisfaction(ctx context.Context, actor service.Actor, applicationID string) (service.SatisfactionView, error)
}

// Submissions — отправки кредиторам (*service.SubmissionService).
type Submissions interface {
	Submit(ctx context.Context, actor service.Actor, key string, in service.SubmitInput) (service.Response, error)
	Retry(ctx context.Context, actor service.Actor, key, submissionID string) (service.Response, error)
	Get(ctx context.Context, actor service.Actor, id string) (service.SubmissionView, error)
}

// LenderAdmin — справочник кредиторов (*service.LenderAdminService).
type LenderAdmin interface {
	UpsertLender(ctx context.Context, actor service.Actor, id string, in service.LenderInput) (service.LenderView, error)
	UpsertProduct(ctx context.Context, actor service.Actor, lenderID, productID string, in service.ProductInput) (service.ProductView, error)
	AddRequirement(ctx context.Context, actor service.Actor, in service.RequirementInput) (service.RequirementView, error)
}

// RoleGrants — локальные выдачи ролей (*service.RoleGrantService).
type RoleGrants interface {
	Get(ctx context.Context, actor service.Actor, subject string) (service.RoleGrantView, error)
	Grant(ctx context.Context, actor service.Actor, subject string, in service.RoleGrantInput) (service.RoleGrantView, error)
	Revoke(ctx context.Context, actor service.Actor, subject string) error
}

// Services — сервисы, которым делегирует APIHandler.
type Services struct {
	Applications Applications
	Documents    Documents
	Reviews      Reviews
	Pipeline     Pipeline
	Submissions  Submissions
	Lenders      LenderAdmin
	RoleGrants   RoleGrants
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	health        *HealthHandler
	svc           Services
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — лимит тела загрузки документа в байтах.
func NewAPIHandler(health *HealthHandler, svc Services, maxUploadSize int64, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:        health,
		svc:           svc,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeResponse записывает ответ идемпотентной операции.
// Повтор помечается заголовком Idempotent-Replayed.
func writeResponse(w http.ResponseWriter, resp service.Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Replayed {
		w.Header().Set(middleware.HeaderReplayed, "true")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// decodeJSON разбирает тело запроса. Неизвестные поля отклоняются.
// При ошибке ответ уже записан и возвращается false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decode(w, r, v, false)
}

// decodeOptionalJSON — как decodeJSON, но пустое тело допустимо.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decode(w, r, v, true)
}

func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.TooLarge(w, "Тело запроса превышает допустимый размер")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// actor — инициатор запроса из JWT claims.
func actor(r *http.Request) service.Actor {
	return middleware.ActorFromContext(r.Context())
}
