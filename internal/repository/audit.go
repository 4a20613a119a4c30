package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// AuditRepository — доступ к журналу аудита audit_events.
// Записи с published_at IS NULL служат outbox для публикации в Kafka.
type AuditRepository interface {
	// Insert добавляет событие аудита.
	Insert(ctx context.Context, e *model.AuditEvent) error
	// ListByApplication возвращает события заявки: с целью-заявкой и с
	// metadata.applicationId, от новых к старым.
	ListByApplication(ctx context.Context, applicationID string, limit int) ([]*model.AuditEvent, error)
	// ListUnpublished блокирует и возвращает неопубликованные события по возрастанию ID.
	ListUnpublished(ctx context.Context, limit int) ([]*model.AuditEvent, error)
	// MarkPublished отмечает события опубликованными.
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

const auditColumns = `id, actor, action, target_type, target_id, success, metadata, created_at, published_at`

func (r *auditRepo) Insert(ctx context.Context, e *model.AuditEvent) error {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO audit_events (actor, action, target_type, target_id, success, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.Actor, e.Action, e.TargetType, e.TargetID, e.Success, e.Metadata,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) list(ctx context.Context, query string, args ...any) ([]*model.AuditEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEvent
	for rows.Next() {
		e := &model.AuditEvent{}
		if err := rows.Scan(
			&e.ID, &e.Actor, &e.Action, &e.TargetType, &e.TargetID, &e.Success,
			&e.Metadata, &e.CreatedAt, &e.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события аудита: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditRepo) ListByApplication(ctx context.Context, applicationID string, limit int) ([]*model.AuditEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_events
		WHERE (target_type = 'application' AND target_id = $1)
		   OR metadata->>'applicationId' = $1
		ORDER BY id DESC
		LIMIT $2`, auditColumns)
	return r.list(ctx, query, applicationID, limit)
}

func (r *auditRepo) ListUnpublished(ctx context.Context, limit int) ([]*model.AuditEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, auditColumns)
	return r.list(ctx, query, limit)
}

func (r *auditRepo) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE audit_events SET published_at = $2 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки публикации событий аудита: %w", err)
	}
	return nil
}
