package model

import "time"

// IdempotencyStatus — жизненный цикл записи идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyPending — операция выполняется в транзакции-владельце.
	IdempotencyPending IdempotencyStatus = "pending"
	// IdempotencyCompleted — операция успешна, ответ сохранён.
	IdempotencyCompleted IdempotencyStatus = "completed"
	// IdempotencyFailed — операция завершилась доменной ошибкой, ответ сохранён.
	IdempotencyFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord — запись идемпотентности, одна на пару (Key, Scope).
type IdempotencyRecord struct {
	Key   string
	Scope string
	// Fingerprint — SHA-256 тела запроса (hex)
	Fingerprint    string
	Status         IdempotencyStatus
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Done — операция завершена (успешно или доменной ошибкой).
func (r *IdempotencyRecord) Done() bool {
	return r.Status == IdempotencyCompleted || r.Status == IdempotencyFailed
}
