// role_grants.go — локальные повышения ролей поверх ролей из IdP.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
	"github.com/bigkaa/loandesk/internal/repository"
)

// RoleGrantService — выдача и отзыв локальных ролей.
// Изменения доступны только admin; чтение выдачи для JWT middleware без проверки прав.
type RoleGrantService struct {
	store  Store
	logger *slog.Logger
}

// NewRoleGrantService создаёт сервис выдачи ролей.
func NewRoleGrantService(store Store, logger *slog.Logger) *RoleGrantService {
	return &RoleGrantService{
		store:  store,
		logger: logger.With(slog.String("component", "role_grants")),
	}
}

// RoleGrantInput — тело запроса выдачи роли.
type RoleGrantInput struct {
	Role string `json:"role"`
}

// RoleGrantView — выдача роли в ответе API.
type RoleGrantView struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	GrantedBy string    `json:"grantedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func grantView(g *model.RoleGrant) RoleGrantView {
	return RoleGrantView{
		Subject:   g.Subject,
		Role:      g.Role,
		GrantedBy: g.GrantedBy,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

// GetRoleGrant возвращает выданную роль субъекта или nil, если выдачи нет.
// Используется JWT middleware при вычислении эффективной роли.
func (s *RoleGrantService) GetRoleGrant(ctx context.Context, subject string) (*string, error) {
	g, err := s.store.Repos().RoleGrants.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &g.Role, nil
}

// Get возвращает выдачу роли субъекта.
func (s *RoleGrantService) Get(ctx context.Context, actor Actor, subject string) (RoleGrantView, error) {
	if err := requireAdmin(actor); err != nil {
		return RoleGrantView{}, err
	}
	return readWithRetry(ctx, s.logger, func(ctx context.Context) (RoleGrantView, error) {
		g, err := s.store.Repos().RoleGrants.Get(ctx, subject)
		if err != nil {
			return RoleGrantView{}, err
		}
		return grantView(g), nil
	})
}

// Grant выдаёт или заменяет локальную роль субъекта.
// Эффективная роль остаётся max(роль IdP, выдача): понизить роль из IdP нельзя.
func (s *RoleGrantService) Grant(ctx context.Context, actor Actor, subject string, in RoleGrantInput) (RoleGrantView, error) {
	if err := requireAdmin(actor); err != nil {
		return RoleGrantView{}, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return RoleGrantView{}, validationError("subject обязателен")
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !rbac.IsValidRole(role) {
		return RoleGrantView{}, validationError("role должна быть readonly, staff или admin")
	}

	g := &model.RoleGrant{Subject: subject, Role: role, GrantedBy: actor.Subject}
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		if err := r.RoleGrants.Upsert(ctx, g); err != nil {
			return err
		}
		return record(ctx, r, actor, model.ActionRoleGranted, model.TargetSubject, subject, true,
			map[string]any{"role": role})
	})
	if err != nil {
		return RoleGrantView{}, classify(err)
	}

	s.logger.Info("Роль выдана",
		slog.String("subject", subject),
		slog.String("role", role),
		slog.String("granted_by", actor.Subject),
	)
	return grantView(g), nil
}

// Revoke отзывает локальную роль субъекта.
func (s *RoleGrantService) Revoke(ctx context.Context, actor Actor, subject string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		if err := r.RoleGrants.Delete(ctx, subject); err != nil {
			return err
		}
		return record(ctx, r, actor, model.ActionRoleRevoked, model.TargetSubject, subject, true, nil)
	})
	if err != nil {
		return classify(err)
	}
	s.logger.Info("Роль отозвана",
		slog.String("subject", subject),
		slog.String("revoked_by", actor.Subject),
	)
	return nil
}
