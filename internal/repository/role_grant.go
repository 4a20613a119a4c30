package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// RoleGrantRepository — доступ к таблице role_grants.
type RoleGrantRepository interface {
	// Upsert создаёт или обновляет выдачу роли.
	Upsert(ctx context.Context, g *model.RoleGrant) error
	// Get возвращает выдачу роли по subject.
	Get(ctx context.Context, subject string) (*model.RoleGrant, error)
	// Delete удаляет выдачу роли.
	Delete(ctx context.Context, subject string) error
}

type roleGrantRepo struct {
	db DBTX
}

// NewRoleGrantRepository создаёт репозиторий выдач ролей.
func NewRoleGrantRepository(db DBTX) RoleGrantRepository {
	return &roleGrantRepo{db: db}
}

func (r *roleGrantRepo) Upsert(ctx context.Context, g *model.RoleGrant) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO role_grants (subject, role, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject) DO UPDATE SET
			role = EXCLUDED.role,
			granted_by = EXCLUDED.granted_by,
			updated_at = now()
		RETURNING created_at, updated_at`,
		g.Subject, g.Role, g.GrantedBy,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert выдачи роли: %w", err)
	}
	return nil
}

func (r *roleGrantRepo) Get(ctx context.Context, subject string) (*model.RoleGrant, error) {
	g := &model.RoleGrant{}
	err := r.db.QueryRow(ctx,
		`SELECT subject, role, granted_by, created_at, updated_at FROM role_grants WHERE subject = $1`,
		subject,
	).Scan(&g.Subject, &g.Role, &g.GrantedBy, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения выдачи роли: %w", err)
	}
	return g, nil
}

func (r *roleGrantRepo) Delete(ctx context.Context, subject string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_grants WHERE subject = $1`, subject)
	if err != nil {
		return fmt.Errorf("ошибка удаления выдачи роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
