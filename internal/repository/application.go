package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/pipeline"
)

// ApplicationRepository — доступ к таблице applications.
type ApplicationRepository interface {
	// Create сохраняет новую заявку (ID задаёт вызывающий).
	Create(ctx context.Context, app *model.Application) error
	// GetByID возвращает заявку по ID.
	GetByID(ctx context.Context, id string) (*model.Application, error)
	// GetForUpdate возвращает заявку с блокировкой строки (SELECT ... FOR UPDATE).
	GetForUpdate(ctx context.Context, id string) (*model.Application, error)
	// CompareAndSetStage меняет стадию, только если текущая равна from.
	// Возвращает false, если стадию уже изменил кто-то другой.
	CompareAndSetStage(ctx context.Context, id string, from, to pipeline.Stage) (bool, error)
	// AssignLender закрепляет за заявкой кредитора и продукт.
	AssignLender(ctx context.Context, id, lenderID, productID string) error
}

type applicationRepo struct {
	db DBTX
}

// NewApplicationRepository создаёт репозиторий заявок.
func NewApplicationRepository(db DBTX) ApplicationRepository {
	return &applicationRepo{db: db}
}

const appColumns = `id, owner_id, product_category, stage, lender_id, lender_product_id,
	requested_amount::text, metadata, created_at, updated_at`

func scanApplication(row pgx.Row) (*model.Application, error) {
	app := &model.Application{}
	var amount *string
	err := row.Scan(
		&app.ID, &app.OwnerID, &app.ProductCategory, &app.Stage,
		&app.LenderID, &app.LenderProductID, &amount, &app.Metadata,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if app.RequestedAmount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if app.Metadata == nil {
		app.Metadata = map[string]any{}
	}
	return app, nil
}

func (r *applicationRepo) Create(ctx context.Context, app *model.Application) error {
	if app.Metadata == nil {
		app.Metadata = map[string]any{}
	}
	query := `
		INSERT INTO applications (id, owner_id, product_category, stage, requested_amount, metadata)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		app.ID, app.OwnerID, app.ProductCategory, app.Stage,
		decimalArg(app.RequestedAmount), app.Metadata,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявка %s", ErrConflict, app.ID)
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *applicationRepo) GetByID(ctx context.Context, id string) (*model.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE id = $1`, appColumns)
	app, err := scanApplication(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return app, nil
}

func (r *applicationRepo) GetForUpdate(ctx context.Context, id string) (*model.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE id = $1 FOR UPDATE`, appColumns)
	app, err := scanApplication(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка блокировки заявки: %w", err)
	}
	return app, nil
}

func (r *applicationRepo) CompareAndSetStage(ctx context.Context, id string, from, to pipeline.Stage) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE applications SET stage = $3, updated_at = now() WHERE id = $1 AND stage = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("ошибка смены стадии заявки: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *applicationRepo) AssignLender(ctx context.Context, id, lenderID, productID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE applications SET lender_id = $2, lender_product_id = $3, updated_at = now() WHERE id = $1`,
		id, lenderID, productID)
	if err != nil {
		return fmt.Errorf("ошибка назначения кредитора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
