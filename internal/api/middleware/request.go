// request.go — дедлайн запроса и заголовки идемпотентности.
package middleware

import (
	"context"
	"net/http"
	"time"
)

const (
	// HeaderIdempotencyKey — ключ идемпотентности мутирующего запроса.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed — ответ воспроизведён из записи идемпотентности.
	HeaderReplayed = "Idempotent-Replayed"
)

// Deadline ограничивает время обработки запроса.
// Истечение дедлайна сервисный слой превращает в gateway_timeout
// с откатом транзакции.
func Deadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdempotencyKey возвращает ключ идемпотентности запроса (пусто — ключа нет).
func IdempotencyKey(r *http.Request) string {
	return r.Header.Get(HeaderIdempotencyKey)
}
