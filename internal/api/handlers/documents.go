// documents.go — загрузка документов и решения по версиям.
// POST /applications/{applicationId}/documents (multipart/form-data)
// POST /applications/{applicationId}/documents/{documentId}/versions/{versionId}/accept|reject
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/loandesk/internal/api/errors"
	"github.com/bigkaa/loandesk/internal/api/middleware"
	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/service"
)

// multipartMemory — часть формы, удерживаемая в памяти, остальное во временных файлах.
const multipartMemory = 8 << 20

// UploadDocument — POST /applications/{applicationId}/documents.
// Поля формы: documentType (обязательно), file (обязательно).
// Доступ: владелец заявки, staff, admin.
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.TooLarge(w, "Файл превышает допустимый размер")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apierrors.ValidationError(w, "Ошибка чтения файла: "+err.Error())
		return
	}

	in := service.UploadInput{
		DocumentType: r.FormValue("documentType"),
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Data:         data,
	}
	resp, err := h.svc.Documents.Upload(r.Context(), actor(r), middleware.IdempotencyKey(r),
		chi.URLParam(r, "applicationId"), in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}

// AcceptDocumentVersion — POST .../versions/{versionId}/accept.
func (h *APIHandler) AcceptDocumentVersion(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionAccepted)
}

// RejectDocumentVersion — POST .../versions/{versionId}/reject.
func (h *APIHandler) RejectDocumentVersion(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionRejected)
}

// decide записывает решение по версии. Тело {"reason": "..."} необязательно.
func (h *APIHandler) decide(w http.ResponseWriter, r *http.Request, decision model.ReviewDecision) {
	var in service.ReviewInput
	if !decodeOptionalJSON(w, r, &in) {
		return
	}
	resp, err := h.svc.Reviews.Decide(r.Context(), actor(r), middleware.IdempotencyKey(r),
		chi.URLParam(r, "applicationId"),
		chi.URLParam(r, "documentId"),
		chi.URLParam(r, "versionId"),
		decision, in)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeResponse(w, resp)
}
