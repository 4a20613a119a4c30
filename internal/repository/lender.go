package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// LenderRepository — доступ к справочникам кредиторов, продуктов и требований.
type LenderRepository interface {
	GetLender(ctx context.Context, id string) (*model.Lender, error)
	GetProduct(ctx context.Context, id string) (*model.LenderProduct, error)
	// ListRequirements возвращает базовые правила категории и, если productID
	// задан, правила этого продукта.
	ListRequirements(ctx context.Context, category string, productID *string) ([]model.DocumentRequirement, error)
	// UpsertLender создаёт или обновляет кредитора по ID.
	UpsertLender(ctx context.Context, l *model.Lender) error
	// UpsertProduct создаёт или обновляет продукт по ID.
	UpsertProduct(ctx context.Context, p *model.LenderProduct) error
	// CreateRequirement добавляет правило требования к документу.
	CreateRequirement(ctx context.Context, req *model.DocumentRequirement) error
}

type lenderRepo struct {
	db DBTX
}

// NewLenderRepository создаёт репозиторий кредиторов.
func NewLenderRepository(db DBTX) LenderRepository {
	return &lenderRepo{db: db}
}

const (
	lenderColumns  = `id, name, submission_method, submission_email, api_endpoint, created_at, updated_at`
	productColumns = `id, lender_id, name, category, created_at, updated_at`
	reqColumns     = `id, product_category, lender_product_id, document_type, min_count,
		min_amount::text, max_amount::text, created_at`
)

func (r *lenderRepo) GetLender(ctx context.Context, id string) (*model.Lender, error) {
	query := fmt.Sprintf(`SELECT %s FROM lenders WHERE id = $1`, lenderColumns)

	l := &model.Lender{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.Name, &l.SubmissionMethod, &l.SubmissionEmail, &l.APIEndpoint,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения кредитора: %w", err)
	}
	return l, nil
}

func (r *lenderRepo) GetProduct(ctx context.Context, id string) (*model.LenderProduct, error) {
	query := fmt.Sprintf(`SELECT %s FROM lender_products WHERE id = $1`, productColumns)

	p := &model.LenderProduct{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.LenderID, &p.Name, &p.Category, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения продукта кредитора: %w", err)
	}
	return p, nil
}

func (r *lenderRepo) ListRequirements(ctx context.Context, category string, productID *string) ([]model.DocumentRequirement, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM document_requirements
		WHERE product_category = $1
		  AND (lender_product_id IS NULL OR lender_product_id = $2)
		ORDER BY document_type, created_at`, reqColumns)

	rows, err := r.db.Query(ctx, query, category, productID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения требований к документам: %w", err)
	}
	defer rows.Close()

	var result []model.DocumentRequirement
	for rows.Next() {
		var (
			req            model.DocumentRequirement
			minAmt, maxAmt *string
		)
		if err := rows.Scan(
			&req.ID, &req.ProductCategory, &req.LenderProductID, &req.DocumentType, &req.MinCount,
			&minAmt, &maxAmt, &req.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования требования: %w", err)
		}
		if req.MinAmount, err = parseDecimal(minAmt); err != nil {
			return nil, err
		}
		if req.MaxAmount, err = parseDecimal(maxAmt); err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (r *lenderRepo) UpsertLender(ctx context.Context, l *model.Lender) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO lenders (id, name, submission_method, submission_email, api_endpoint)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			submission_method = EXCLUDED.submission_method,
			submission_email = EXCLUDED.submission_email,
			api_endpoint = EXCLUDED.api_endpoint,
			updated_at = now()
		RETURNING created_at, updated_at`,
		l.ID, l.Name, l.SubmissionMethod, l.SubmissionEmail, l.APIEndpoint,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert кредитора: %w", err)
	}
	return nil
}

func (r *lenderRepo) UpsertProduct(ctx context.Context, p *model.LenderProduct) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO lender_products (id, lender_id, name, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			updated_at = now()
		WHERE lender_products.lender_id = EXCLUDED.lender_id
		RETURNING created_at, updated_at`,
		p.ID, p.LenderID, p.Name, p.Category,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: продукт %s принадлежит другому кредитору", ErrConflict, p.ID)
		}
		return fmt.Errorf("ошибка upsert продукта кредитора: %w", err)
	}
	return nil
}

func (r *lenderRepo) CreateRequirement(ctx context.Context, req *model.DocumentRequirement) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.MinCount < 1 {
		req.MinCount = 1
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_requirements
			(id, product_category, lender_product_id, document_type, min_count, min_amount, max_amount)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)
		RETURNING created_at`,
		req.ID, req.ProductCategory, req.LenderProductID, req.DocumentType, req.MinCount,
		decimalArg(req.MinAmount), decimalArg(req.MaxAmount),
	).Scan(&req.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания требования: %w", err)
	}
	return nil
}
