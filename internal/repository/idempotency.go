package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// IdempotencyRepository — доступ к таблице idempotency_records.
type IdempotencyRepository interface {
	// Insert пытается занять пару (key, scope) записью в статусе pending.
	// Возвращает false, если запись уже существует. Конкурентная вставка
	// того же ключа ждёт завершения транзакции-владельца.
	Insert(ctx context.Context, rec *model.IdempotencyRecord) (bool, error)
	// Get возвращает запись по (key, scope).
	Get(ctx context.Context, key, scope string) (*model.IdempotencyRecord, error)
	// AdoptPending перехватывает зафиксированную pending-запись с тем же отпечатком.
	AdoptPending(ctx context.Context, key, scope, fingerprint string) (bool, error)
	// Complete сохраняет итоговый статус и ответ.
	Complete(ctx context.Context, key, scope string, status model.IdempotencyStatus, responseStatus int, body []byte) error
}

type idempotencyRepo struct {
	db DBTX
}

// NewIdempotencyRepository создаёт репозиторий записей идемпотентности.
func NewIdempotencyRepository(db DBTX) IdempotencyRepository {
	return &idempotencyRepo{db: db}
}

func (r *idempotencyRepo) Insert(ctx context.Context, rec *model.IdempotencyRecord) (bool, error) {
	rec.Status = model.IdempotencyPending
	err := r.db.QueryRow(ctx, `
		INSERT INTO idempotency_records (key, scope, fingerprint, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key, scope) DO NOTHING
		RETURNING created_at, updated_at`,
		rec.Key, rec.Scope, rec.Fingerprint, rec.Status,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка создания записи идемпотентности: %w", err)
	}
	return true, nil
}

func (r *idempotencyRepo) Get(ctx context.Context, key, scope string) (*model.IdempotencyRecord, error) {
	rec := &model.IdempotencyRecord{}
	var respStatus *int
	err := r.db.QueryRow(ctx, `
		SELECT key, scope, fingerprint, status, response_status, response_body, created_at, updated_at
		FROM idempotency_records
		WHERE key = $1 AND scope = $2`, key, scope,
	).Scan(&rec.Key, &rec.Scope, &rec.Fingerprint, &rec.Status, &respStatus,
		&rec.ResponseBody, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи идемпотентности: %w", err)
	}
	if respStatus != nil {
		rec.ResponseStatus = *respStatus
	}
	return rec, nil
}

func (r *idempotencyRepo) AdoptPending(ctx context.Context, key, scope, fingerprint string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE idempotency_records SET updated_at = now()
		WHERE key = $1 AND scope = $2 AND fingerprint = $3 AND status = 'pending'`,
		key, scope, fingerprint)
	if err != nil {
		return false, fmt.Errorf("ошибка перехвата записи идемпотентности: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *idempotencyRepo) Complete(ctx context.Context, key, scope string, status model.IdempotencyStatus, responseStatus int, body []byte) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $3, response_status = $4, response_body = $5, updated_at = now()
		WHERE key = $1 AND scope = $2 AND status = 'pending'`,
		key, scope, status, responseStatus, body)
	if err != nil {
		return fmt.Errorf("ошибка завершения записи идемпотентности: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
