// Пакет errors — ответы с ошибками в едином формате API.
// Формат: {"error": {"code": "...", "message": "...", "details": {...}}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromService.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/loandesk/internal/service"
)

// Коды ошибок транспортного уровня. Коды бизнес-логики определены в service.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = service.CodeNotFound
	CodeForbidden    = service.CodeForbidden
	CodeValidation   = service.CodeValidation
	CodeTooLarge     = "payload_too_large"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromService записывает ошибку сервисного слоя.
// Ошибка без кода таксономии отдаётся как service_unavailable,
// истёкший дедлайн — как gateway_timeout.
func FromService(w http.ResponseWriter, err error) {
	se, ok := service.AsError(err)
	if !ok {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			se = service.ErrGatewayTimeout
		default:
			se = service.ErrServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.Status)
	_, _ = w.Write(se.Body())
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidation, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// TooLarge — 413 тело запроса превышает лимит.
func TooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, message)
}
