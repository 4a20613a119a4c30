package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// SubmissionRepository — доступ к таблицам lender_submissions и lender_submission_retries.
type SubmissionRepository interface {
	// Create сохраняет отправку. ErrConflict — ключ идемпотентности уже занят.
	Create(ctx context.Context, s *model.LenderSubmission) error
	GetByID(ctx context.Context, id string) (*model.LenderSubmission, error)
	// GetForUpdate возвращает отправку с блокировкой строки.
	GetForUpdate(ctx context.Context, id string) (*model.LenderSubmission, error)
	// GetByIdempotencyKey ищет отправку по автору и ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, createdBy, key string) (*model.LenderSubmission, error)
	// UpdateOutcome сохраняет статус, причину отказа, внешний идентификатор и снимок пакета.
	UpdateOutcome(ctx context.Context, s *model.LenderSubmission) error

	// UpsertRetry создаёт или обновляет запись журнала повторов (одна на отправку).
	UpsertRetry(ctx context.Context, r *model.SubmissionRetry) error
	GetRetry(ctx context.Context, submissionID string) (*model.SubmissionRetry, error)
	// ListDueRetries возвращает созревшие pending-записи, блокируя строки
	// соответствующих отправок. Отправки, занятые другим экземпляром или
	// ручным повтором, пропускаются (SKIP LOCKED).
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.SubmissionRetry, error)
	// CancelPendingRetries отменяет pending-записи всех отправок заявки.
	CancelPendingRetries(ctx context.Context, applicationID, reason string) (int64, error)
}

type submissionRepo struct {
	db DBTX
}

// NewSubmissionRepository создаёт репозиторий отправок кредиторам.
func NewSubmissionRepository(db DBTX) SubmissionRepository {
	return &submissionRepo{db: db}
}

const (
	submissionColumns = `id, application_id, lender_id, lender_product_id, status, failure_reason,
		idempotency_key, created_by, payload, external_reference, created_at, updated_at`
	retryColumns = `id, submission_id, status, attempt_count, next_attempt_at, last_error, created_at, updated_at`
)

func scanSubmission(row pgx.Row) (*model.LenderSubmission, error) {
	s := &model.LenderSubmission{}
	err := row.Scan(
		&s.ID, &s.ApplicationID, &s.LenderID, &s.LenderProductID, &s.Status, &s.FailureReason,
		&s.IdempotencyKey, &s.CreatedBy, &s.Payload, &s.ExternalReference, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func scanRetry(row pgx.Row) (*model.SubmissionRetry, error) {
	r := &model.SubmissionRetry{}
	err := row.Scan(
		&r.ID, &r.SubmissionID, &r.Status, &r.AttemptCount, &r.NextAttemptAt, &r.LastError,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (r *submissionRepo) Create(ctx context.Context, s *model.LenderSubmission) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO lender_submissions
			(id, application_id, lender_id, lender_product_id, status, failure_reason,
			 idempotency_key, created_by, payload, external_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		s.ID, s.ApplicationID, s.LenderID, s.LenderProductID, s.Status, s.FailureReason,
		s.IdempotencyKey, s.CreatedBy, s.Payload, s.ExternalReference,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: отправка с ключом %s", ErrConflict, s.IdempotencyKey)
		}
		return fmt.Errorf("ошибка создания отправки: %w", err)
	}
	return nil
}

func (r *submissionRepo) get(ctx context.Context, query string, args ...any) (*model.LenderSubmission, error) {
	s, err := scanSubmission(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения отправки: %w", err)
	}
	return s, nil
}

func (r *submissionRepo) GetByID(ctx context.Context, id string) (*model.LenderSubmission, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM lender_submissions WHERE id = $1`, submissionColumns), id)
}

func (r *submissionRepo) GetForUpdate(ctx context.Context, id string) (*model.LenderSubmission, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM lender_submissions WHERE id = $1 FOR UPDATE`, submissionColumns), id)
}

func (r *submissionRepo) GetByIdempotencyKey(ctx context.Context, createdBy, key string) (*model.LenderSubmission, error) {
	return r.get(ctx,
		fmt.Sprintf(`SELECT %s FROM lender_submissions WHERE created_by = $1 AND idempotency_key = $2`, submissionColumns),
		createdBy, key)
}

func (r *submissionRepo) UpdateOutcome(ctx context.Context, s *model.LenderSubmission) error {
	err := r.db.QueryRow(ctx, `
		UPDATE lender_submissions
		SET status = $2, failure_reason = $3, external_reference = $4, payload = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Status, s.FailureReason, s.ExternalReference, s.Payload,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления отправки: %w", err)
	}
	return nil
}

func (r *submissionRepo) UpsertRetry(ctx context.Context, rt *model.SubmissionRetry) error {
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO lender_submission_retries
			(id, submission_id, status, attempt_count, next_attempt_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (submission_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			next_attempt_at = EXCLUDED.next_attempt_at,
			last_error = EXCLUDED.last_error,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		rt.ID, rt.SubmissionID, rt.Status, rt.AttemptCount, rt.NextAttemptAt, rt.LastError,
	).Scan(&rt.ID, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи повтора: %w", err)
	}
	return nil
}

func (r *submissionRepo) GetRetry(ctx context.Context, submissionID string) (*model.SubmissionRetry, error) {
	query := fmt.Sprintf(`SELECT %s FROM lender_submission_retries WHERE submission_id = $1`, retryColumns)
	rt, err := scanRetry(r.db.QueryRow(ctx, query, submissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи повтора: %w", err)
	}
	return rt, nil
}

func (r *submissionRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*model.SubmissionRetry, error) {
	// Блокируется строка отправки, а не записи повтора: ручной повтор
	// берёт блокировки в том же порядке (отправка → запись повтора).
	query := `
		SELECT r.id, r.submission_id, r.status, r.attempt_count, r.next_attempt_at,
			r.last_error, r.created_at, r.updated_at
		FROM lender_submission_retries r
		JOIN lender_submissions s ON s.id = r.submission_id
		WHERE r.status = 'pending' AND r.next_attempt_at <= $1
		ORDER BY r.next_attempt_at
		LIMIT $2
		FOR UPDATE OF s SKIP LOCKED`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки созревших повторов: %w", err)
	}
	defer rows.Close()

	var result []*model.SubmissionRetry
	for rows.Next() {
		rt, err := scanRetry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи повтора: %w", err)
		}
		result = append(result, rt)
	}
	return result, rows.Err()
}

func (r *submissionRepo) CancelPendingRetries(ctx context.Context, applicationID, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE lender_submission_retries r
		SET status = 'canceled', next_attempt_at = NULL, last_error = $2, updated_at = now()
		FROM lender_submissions s
		WHERE s.id = r.submission_id AND s.application_id = $1 AND r.status = 'pending'`,
		applicationID, reason)
	if err != nil {
		return 0, fmt.Errorf("ошибка отмены повторов заявки: %w", err)
	}
	return tag.RowsAffected(), nil
}
