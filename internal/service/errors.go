// errors.go — типизированные ошибки бизнес-логики сервисного слоя.
//
// Каждая ошибка несёт HTTP-статус и стабильный машиночитаемый код.
// errors.Is сравнивает ошибки по коду, поэтому уточнённая копия
// (WithMessage/WithDetails) остаётся равной исходному sentinel.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/loandesk/internal/repository"
)

// Error — доменная ошибка с кодом таксономии.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	// rollback — транзакция откатывается целиком, ответ не сохраняется
	// в записи идемпотентности (гонка, нарушение ограничения, инфраструктура).
	rollback bool
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is сравнивает ошибки по коду.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage возвращает копию ошибки с другим сообщением.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// WithDetails возвращает копию ошибки с деталями.
func (e *Error) WithDetails(details map[string]any) *Error {
	c := *e
	c.Details = details
	return &c
}

// Storable — ответ с этой ошибкой фиксируется в записи идемпотентности.
func (e *Error) Storable() bool {
	return !e.rollback
}

// errorEnvelope — тело ответа с ошибкой: {"error":{"code","message","details?"}}.
type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Body сериализует ошибку в формате ответа API.
func (e *Error) Body() []byte {
	body, err := json.Marshal(errorEnvelope{Error: errorPayload{
		Code: e.Code, Message: e.Message, Details: e.Details,
	}})
	if err != nil {
		// Details не сериализуются — отдаём ошибку без них
		body, _ = json.Marshal(errorEnvelope{Error: errorPayload{Code: e.Code, Message: e.Message}})
	}
	return body
}

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func newRollback(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, rollback: true}
}

// Коды ошибок.
const (
	CodeValidation             = "validation_error"
	CodeMissingIdempotencyKey  = "missing_idempotency_key"
	CodeIdempotencyConflict    = "idempotency_conflict"
	CodeInvalidTransition      = "invalid_transition"
	CodeMissingDocuments       = "missing_documents"
	CodeMissingSubmissionEmail = "missing_submission_email"
	CodeAlreadyReviewed        = "already_reviewed"
	CodeLenderTimeout          = "lender_timeout"
	CodeLenderError            = "lender_error"
	CodeConstraintViolation    = "constraint_violation"
	CodeServiceUnavailable     = "service_unavailable"
	CodeGatewayTimeout         = "gateway_timeout"
	CodeNotFound               = "not_found"
	CodeForbidden              = "forbidden"
	CodeStageConflict          = "stage_conflict"
)

var (
	// ErrValidation — некорректные входные данные.
	ErrValidation = newError(http.StatusBadRequest, CodeValidation, "ошибка валидации")
	// ErrMissingIdempotencyKey — мутирующий запрос без Idempotency-Key.
	ErrMissingIdempotencyKey = newError(http.StatusBadRequest, CodeMissingIdempotencyKey,
		"требуется заголовок Idempotency-Key")
	// ErrIdempotencyConflict — ключ повторно использован с другим телом запроса.
	ErrIdempotencyConflict = newRollback(http.StatusConflict, CodeIdempotencyConflict,
		"ключ идемпотентности уже использован с другим телом запроса")
	// ErrInvalidTransition — недопустимый переход стадии.
	ErrInvalidTransition = newError(http.StatusBadRequest, CodeInvalidTransition, "недопустимый переход стадии")
	// ErrMissingDocuments — обязательные документы не приняты.
	ErrMissingDocuments = newError(http.StatusBadRequest, CodeMissingDocuments, "не все обязательные документы приняты")
	// ErrMissingSubmissionEmail — у кредитора с методом EMAIL не задан адрес.
	ErrMissingSubmissionEmail = newError(http.StatusBadRequest, CodeMissingSubmissionEmail,
		"у кредитора не настроен адрес для отправки")
	// ErrAlreadyReviewed — по версии документа уже принято решение.
	ErrAlreadyReviewed = newError(http.StatusConflict, CodeAlreadyReviewed, "по версии документа уже принято решение")
	// ErrLenderTimeout — кредитор не ответил вовремя.
	ErrLenderTimeout = newError(http.StatusBadGateway, CodeLenderTimeout, "кредитор не ответил вовремя")
	// ErrLenderError — кредитор отклонил отправку.
	ErrLenderError = newError(http.StatusBadGateway, CodeLenderError, "ошибка на стороне кредитора")
	// ErrConstraintViolation — нарушено ограничение уникальности.
	ErrConstraintViolation = newRollback(http.StatusConflict, CodeConstraintViolation, "нарушено ограничение уникальности")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = newError(http.StatusNotFound, CodeNotFound, "ресурс не найден")
	// ErrForbidden — недостаточно прав.
	ErrForbidden = newError(http.StatusForbidden, CodeForbidden, "недостаточно прав")

	// ErrStageConflict — стадия изменилась между чтением и записью.
	ErrStageConflict = newRollback(http.StatusConflict, CodeStageConflict,
		"стадия заявки изменена параллельным запросом")
	// ErrServiceUnavailable — хранилище временно недоступно.
	ErrServiceUnavailable = newRollback(http.StatusServiceUnavailable, CodeServiceUnavailable,
		"сервис временно недоступен")
	// ErrGatewayTimeout — истёк дедлайн запроса.
	ErrGatewayTimeout = newRollback(http.StatusGatewayTimeout, CodeGatewayTimeout, "истёк дедлайн запроса")
)

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// validationError — ErrValidation с конкретным сообщением.
func validationError(msg string) *Error {
	return ErrValidation.WithMessage(msg)
}

// classify приводит ненулевую ошибку нижних слоёв к *Error.
// Неизвестные ошибки становятся service_unavailable, истёкший дедлайн — gateway_timeout.
func classify(err error) *Error {
	if se, ok := AsError(err); ok {
		return se
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrConstraintViolation.WithMessage(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return ErrGatewayTimeout
	default:
		return ErrServiceUnavailable
	}
}

// retryable — ошибка инфраструктуры, допускающая один повтор чтения.
func retryable(err error) bool {
	if _, ok := AsError(err); ok {
		return false
	}
	return !errors.Is(err, repository.ErrNotFound) &&
		!errors.Is(err, repository.ErrConflict) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, context.Canceled)
}
