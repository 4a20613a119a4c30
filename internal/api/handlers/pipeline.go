// pipeline.go — явный переход стадии заявки.
// POST /applications/{applicationId}/pipeline {"state", "override", "reason"}
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/service"
)

// TransitionApplication — POST /applications/{applicationId}/pipeline.
// Доступ: staff, admin.
func (h *APIHandler) TransitionApplication(w http.ResponseWriter, r *http.Request) {
	var in service.TransitionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	resp, err := h.svc.Pipeline.Transition(r.Context(), actor(r), middleware.IdempotencyKey(r),
		chi.URLParam(r, "applicationId"), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}
