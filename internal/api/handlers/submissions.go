// submissions.go — отправка пакета заявки кредитору и повторная передача.
// POST /lender/submissions, GET /lender/submissions/{submissionId},
// POST /admin/transmissions/{submissionId}/retry.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/service"
)

// SubmitToLender — POST /lender/submissions.
// Доступ: staff, admin.
func (h *APIHandler) SubmitToLender(w http.ResponseWriter, r *http.Request) {
	var in service.SubmitInput
	if !decodeJSON(w, r, &in) {
		return
	}
	resp, err := h.svc.Submissions.Submit(r.Context(), actor(r), middleware.IdempotencyKey(r), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}

// GetSubmission — GET /lender/submissions/{submissionId}.
func (h *APIHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Submissions.Get(r.Context(), actor(r), chi.URLParam(r, "submissionId"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RetryTransmission — POST /admin/transmissions/{submissionId}/retry.
// Доступ: staff, admin.
func (h *APIHandler) RetryTransmission(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Submissions.Retry(r.Context(), actor(r), middleware.IdempotencyKey(r),
		chi.URLParam(r, "submissionId"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}
