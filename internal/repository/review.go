package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// ReviewRepository — доступ к таблице document_version_reviews.
type ReviewRepository interface {
	// Insert сохраняет решение по версии документа.
	// Возвращает false, если по версии уже есть решение: уникальный ключ
	// по document_version_id — единственный арбитр гонки рецензентов.
	Insert(ctx context.Context, review *model.Review) (bool, error)
}

type reviewRepo struct {
	db DBTX
}

// NewReviewRepository создаёт репозиторий решений по документам.
func NewReviewRepository(db DBTX) ReviewRepository {
	return &reviewRepo{db: db}
}

func (r *reviewRepo) Insert(ctx context.Context, review *model.Review) (bool, error) {
	if review.ID == "" {
		review.ID = uuid.New().String()
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO document_version_reviews (id, document_version_id, decision, reviewer_id, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_version_id) DO NOTHING
		RETURNING created_at`,
		review.ID, review.DocumentVersionID, review.Decision, review.ReviewerID, review.Reason,
	).Scan(&review.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка сохранения решения по документу: %w", err)
	}
	return true, nil
}
