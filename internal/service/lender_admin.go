// lender_admin.go — администрирование справочника кредиторов и требований к документам.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
	"github.com/bigkaa/loandesk/internal/repository"
)

// LenderAdminService — upsert кредиторов и продуктов, добавление требований.
// Все операции доступны только роли admin.
type LenderAdminService struct {
	store  Store
	cache  *LenderCache
	logger *slog.Logger
}

// NewLenderAdminService создаёт сервис администрирования кредиторов.
func NewLenderAdminService(store Store, cache *LenderCache, logger *slog.Logger) *LenderAdminService {
	return &LenderAdminService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "lender-admin")),
	}
}

// LenderInput — тело запроса upsert кредитора.
type LenderInput struct {
	Name             string  `json:"name"`
	SubmissionMethod string  `json:"submissionMethod"`
	SubmissionEmail  *string `json:"submissionEmail,omitempty"`
	APIEndpoint      *string `json:"apiEndpoint,omitempty"`
}

// LenderView — кредитор в ответе API.
type LenderView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SubmissionMethod string    `json:"submissionMethod"`
	SubmissionEmail  *string   `json:"submissionEmail,omitempty"`
	APIEndpoint      *string   `json:"apiEndpoint,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ProductInput — тело запроса upsert продукта.
type ProductInput struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ProductView — продукт кредитора в ответе API.
type ProductView struct {
	ID        string    `json:"id"`
	LenderID  string    `json:"lenderId"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RequirementInput — тело запроса добавления требования.
type RequirementInput struct {
	ProductCategory string           `json:"productCategory"`
	LenderProductID *string          `json:"lenderProductId,omitempty"`
	DocumentType    string           `json:"documentType"`
	MinCount        int              `json:"minCount,omitempty"`
	MinAmount       *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount       *decimal.Decimal `json:"maxAmount,omitempty"`
}

// RequirementView — требование в ответе API.
type RequirementView struct {
	ID              string    `json:"id"`
	ProductCategory string    `json:"productCategory"`
	LenderProductID *string   `json:"lenderProductId,omitempty"`
	DocumentType    string    `json:"documentType"`
	MinCount        int       `json:"minCount"`
	MinAmount       *string   `json:"minAmount,omitempty"`
	MaxAmount       *string   `json:"maxAmount,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func requireAdmin(actor Actor) error {
	if !rbac.AtLeast(actor.Role, rbac.RoleAdmin) {
		return ErrForbidden.WithMessage("операция доступна только роли admin")
	}
	return nil
}

func validateUUID(field, v string) error {
	if _, err := uuid.Parse(v); err != nil {
		return validationError(fmt.Sprintf("%s должен быть UUID", field))
	}
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// UpsertLender создаёт или обновляет кредитора.
// EMAIL без адреса допускается: отправка такому кредитору завершится missing_submission_email.
func (s *LenderAdminService) UpsertLender(ctx context.Context, actor Actor, id string, in LenderInput) (LenderView, error) {
	if err := requireAdmin(actor); err != nil {
		return LenderView{}, err
	}
	if err := validateUUID("lenderId", id); err != nil {
		return LenderView{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return LenderView{}, validationError("name обязателен")
	}
	method := model.SubmissionMethod(strings.ToUpper(strings.TrimSpace(in.SubmissionMethod)))
	if !method.IsValid() {
		return LenderView{}, validationError("submissionMethod должен быть EMAIL, API или PORTAL")
	}
	email := trimOptional(in.SubmissionEmail)
	if email != nil {
		if _, err := mail.ParseAddress(*email); err != nil {
			return LenderView{}, validationError(fmt.Sprintf("некорректный submissionEmail: %v", err))
		}
	}
	endpoint := trimOptional(in.APIEndpoint)
	if endpoint != nil {
		u, err := url.Parse(*endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return LenderView{}, validationError("apiEndpoint должен быть абсолютным http(s) URL")
		}
	}

	l := &model.Lender{
		ID:               id,
		Name:             in.Name,
		SubmissionMethod: method,
		SubmissionEmail:  email,
		APIEndpoint:      endpoint,
	}
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		if err := r.Lenders.UpsertLender(ctx, l); err != nil {
			return err
		}
		return record(ctx, r, actor, model.ActionLenderUpserted, model.TargetLender, l.ID, true,
			map[string]any{"name": l.Name, "method": string(l.SubmissionMethod)})
	})
	if err != nil {
		return LenderView{}, classify(err)
	}
	s.cache.InvalidateLender(l.ID)

	s.logger.Info("Кредитор сохранён",
		slog.String("lender_id", l.ID),
		slog.String("method", string(l.SubmissionMethod)),
		slog.String("actor", actor.Subject),
	)
	return LenderView{
		ID:               l.ID,
		Name:             l.Name,
		SubmissionMethod: string(l.SubmissionMethod),
		SubmissionEmail:  l.SubmissionEmail,
		APIEndpoint:      l.APIEndpoint,
		CreatedAt:        l.CreatedAt,
		UpdatedAt:        l.UpdatedAt,
	}, nil
}

// UpsertProduct создаёт или обновляет продукт кредитора.
// Продукт нельзя перенести к другому кредитору (constraint_violation).
func (s *LenderAdminService) UpsertProduct(ctx context.Context, actor Actor, lenderID, productID string, in ProductInput) (ProductView, error) {
	if err := requireAdmin(actor); err != nil {
		return ProductView{}, err
	}
	if err := validateUUID("lenderId", lenderID); err != nil {
		return ProductView{}, err
	}
	if err := validateUUID("productId", productID); err != nil {
		return ProductView{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	if in.Name == "" || in.Category == "" {
		return ProductView{}, validationError("name и category обязательны")
	}

	p := &model.LenderProduct{ID: productID, LenderID: lenderID, Name: in.Name, Category: in.Category}
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		if _, err := r.Lenders.GetLender(ctx, lenderID); err != nil {
			return err
		}
		if err := r.Lenders.UpsertProduct(ctx, p); err != nil {
			return err
		}
		return record(ctx, r, actor, model.ActionLenderUpserted, model.TargetLender, lenderID, true,
			map[string]any{"productId": p.ID, "category": p.Category})
	})
	if err != nil {
		return ProductView{}, classify(err)
	}
	s.cache.InvalidateProduct(p.ID)

	s.logger.Info("Продукт кредитора сохранён",
		slog.String("lender_id", lenderID),
		slog.String("product_id", p.ID),
		slog.String("category", p.Category),
	)
	return ProductView{
		ID:        p.ID,
		LenderID:  p.LenderID,
		Name:      p.Name,
		Category:  p.Category,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

// AddRequirement добавляет правило обязательного документа.
func (s *LenderAdminService) AddRequirement(ctx context.Context, actor Actor, in RequirementInput) (RequirementView, error) {
	if err := requireAdmin(actor); err != nil {
		return RequirementView{}, err
	}
	in.ProductCategory = strings.TrimSpace(in.ProductCategory)
	in.DocumentType = strings.ToLower(strings.TrimSpace(in.DocumentType))
	if in.ProductCategory == "" || in.DocumentType == "" {
		return RequirementView{}, validationError("productCategory и documentType обязательны")
	}
	if in.MinCount < 0 {
		return RequirementView{}, validationError("minCount не может быть отрицательным")
	}
	if in.MinCount == 0 {
		in.MinCount = 1
	}
	if in.MinAmount != nil && in.MaxAmount != nil && in.MinAmount.GreaterThan(*in.MaxAmount) {
		return RequirementView{}, validationError("minAmount больше maxAmount")
	}
	in.LenderProductID = trimOptional(in.LenderProductID)
	if in.LenderProductID != nil {
		if err := validateUUID("lenderProductId", *in.LenderProductID); err != nil {
			return RequirementView{}, err
		}
	}

	req := &model.DocumentRequirement{
		ProductCategory: in.ProductCategory,
		LenderProductID: in.LenderProductID,
		DocumentType:    in.DocumentType,
		MinCount:        in.MinCount,
		MinAmount:       in.MinAmount,
		MaxAmount:       in.MaxAmount,
	}
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		if req.LenderProductID != nil {
			if _, err := r.Lenders.GetProduct(ctx, *req.LenderProductID); err != nil {
				return err
			}
		}
		if err := r.Lenders.CreateRequirement(ctx, req); err != nil {
			return err
		}
		meta := map[string]any{
			"productCategory": req.ProductCategory,
			"documentType":    req.DocumentType,
			"minCount":        req.MinCount,
		}
		if req.LenderProductID != nil {
			meta["lenderProductId"] = *req.LenderProductID
		}
		return record(ctx, r, actor, model.ActionRequirementAdded, model.TargetLender, req.ID, true, meta)
	})
	if err != nil {
		return RequirementView{}, classify(err)
	}

	s.logger.Info("Требование к документам добавлено",
		slog.String("category", req.ProductCategory),
		slog.String("document_type", req.DocumentType),
		slog.Int("min_count", req.MinCount),
	)
	v := RequirementView{
		ID:              req.ID,
		ProductCategory: req.ProductCategory,
		LenderProductID: req.LenderProductID,
		DocumentType:    req.DocumentType,
		MinCount:        req.MinCount,
		CreatedAt:       req.CreatedAt,
	}
	if req.MinAmount != nil {
		amt := req.MinAmount.String()
		v.MinAmount = &amt
	}
	if req.MaxAmount != nil {
		amt := req.MaxAmount.String()
		v.MaxAmount = &amt
	}
	return v, nil
}
