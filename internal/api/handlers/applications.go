// applications.go — обработчики заявок.
// POST /applications, POST /public/applications,
// GET /applications/{applicationId}, .../requirements, .../audit.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/service"
)

// CreateApplication — POST /applications.
// Доступ: любой аутентифицированный пользователь (становится владельцем).
func (h *APIHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var in service.CreateApplicationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	resp, err := h.svc.Applications.Create(r.Context(), actor(r), middleware.IdempotencyKey(r), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}

// CreatePublicApplication — POST /public/applications.
// Без аутентификации. Идемпотентность по submissionKey из тела.
func (h *APIHandler) CreatePublicApplication(w http.ResponseWriter, r *http.Request) {
	var in service.PublicApplicationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	resp, err := h.svc.Applications.CreatePublic(r.Context(), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}

// GetApplication — GET /applications/{applicationId}.
func (h *APIHandler) GetApplication(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Applications.Get(r.Context(), actor(r), chi.URLParam(r, "applicationId"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetRequirements — GET /applications/{applicationId}/requirements.
// Требования к документам и их выполнение.
func (h *APIHandler) GetRequirements(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Pipeline.Satisfaction(r.Context(), actor(r), chi.URLParam(r, "applicationId"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetAudit — GET /applications/{applicationId}/audit?limit=N.
func (h *APIHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, "limit должен быть положительным числом")
			return
		}
		limit = n
	}
	events, err := h.svc.Applications.Audit(r.Context(), actor(r), chi.URLParam(r, "applicationId"), limit)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}
