// admin.go — администрирование справочника кредиторов и выдачи ролей.
// PUT /admin/lenders/{lenderId}
// PUT /admin/lenders/{lenderId}/products/{productId}
// POST /admin/requirements
// GET|PUT|DELETE /admin/role-grants/{subject}
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/service"
)

// UpsertLender — PUT /admin/lenders/{lenderId}.
func (h *APIHandler) UpsertLender(w http.ResponseWriter, r *http.Request) {
	var in service.LenderInput
	if !decodeJSON(w, r, &in) {
		return
	}
	view, err := h.svc.Lenders.UpsertLender(r.Context(), actor(r), chi.URLParam(r, "lenderId"), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpsertProduct — PUT /admin/lenders/{lenderId}/products/{productId}.
func (h *APIHandler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var in service.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	view, err := h.svc.Lenders.UpsertProduct(r.Context(), actor(r),
		chi.URLParam(r, "lenderId"), chi.URLParam(r, "productId"), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// AddRequirement — POST /admin/requirements.
func (h *APIHandler) AddRequirement(w http.ResponseWriter, r *http.Request) {
	var in service.RequirementInput
	if !decodeJSON(w, r, &in) {
		return
	}
	view, err := h.svc.Lenders.AddRequirement(r.Context(), actor(r), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetRoleGrant — GET /admin/role-grants/{subject}.
func (h *APIHandler) GetRoleGrant(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.RoleGrants.Get(r.Context(), actor(r), chi.URLParam(r, "subject"))
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PutRoleGrant — PUT /admin/role-grants/{subject} {"role": "..."}.
func (h *APIHandler) PutRoleGrant(w http.ResponseWriter, r *http.Request) {
	var in service.RoleGrantInput
	if !decodeJSON(w, r, &in) {
		return
	}
	view, err := h.svc.RoleGrants.Grant(r.Context(), actor(r), chi.URLParam(r, "subject"), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteRoleGrant — DELETE /admin/role-grants/{subject}.
func (h *APIHandler) DeleteRoleGrant(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RoleGrants.Revoke(r.Context(), actor(r), chi.URLParam(r, "subject")); err != nil {
		apierrors.FromService(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
