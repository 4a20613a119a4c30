// applications.go — приём заявок (аутентифицированный и публичный) и чтение заявки.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/pipeline"
	"github.com/bigkaa/loandesk/internal/repository"
)

// PublicIntakeScope — пространство ключей публичного приёма заявок.
const PublicIntakeScope = "public-intake"

// ApplicationService — создание и чтение заявок.
type ApplicationService struct {
	store           Store
	exec            *Executor
	startupCategory string
	logger          *slog.Logger
}

// NewApplicationService создаёт сервис заявок.
// startupCategory — категория продукта, для которой заявка проходит стадию STARTUP.
func NewApplicationService(store Store, exec *Executor, startupCategory string, logger *slog.Logger) *ApplicationService {
	return &ApplicationService{
		store:           store,
		exec:            exec,
		startupCategory: startupCategory,
		logger:          logger.With(slog.String("component", "applications")),
	}
}

// CreateApplicationInput — тело запроса создания заявки.
type CreateApplicationInput struct {
	ProductCategory string           `json:"productCategory"`
	RequestedAmount *decimal.Decimal `json:"requestedAmount,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

func (in *CreateApplicationInput) validate() error {
	in.ProductCategory = strings.TrimSpace(in.ProductCategory)
	if in.ProductCategory == "" {
		return validationError("productCategory обязателен")
	}
	if in.RequestedAmount != nil && in.RequestedAmount.IsNegative() {
		return validationError("requestedAmount не может быть отрицательным")
	}
	return nil
}

// PublicApplicationInput — тело публичной заявки; SubmissionKey заменяет Idempotency-Key.
type PublicApplicationInput struct {
	SubmissionKey string `json:"submissionKey"`
	CreateApplicationInput
}

// Create создаёт заявку от имени аутентифицированного пользователя.
func (s *ApplicationService) Create(ctx context.Context, actor Actor, key string, in CreateApplicationInput) (Response, error) {
	if err := requireKey(key); err != nil {
		return Response{}, err
	}
	if err := in.validate(); err != nil {
		return Response{}, err
	}
	return s.create(ctx, actor, key, scopeFor("applications.create", actor), in)
}

// CreatePublic создаёт заявку без аутентификации.
// Идемпотентность строится на submissionKey в пространстве public-intake.
func (s *ApplicationService) CreatePublic(ctx context.Context, in PublicApplicationInput) (Response, error) {
	in.SubmissionKey = strings.TrimSpace(in.SubmissionKey)
	if in.SubmissionKey == "" {
		return Response{}, validationError("submissionKey обязателен")
	}
	if err := in.validate(); err != nil {
		return Response{}, err
	}
	actor := Actor{Subject: "public:" + in.SubmissionKey}
	return s.create(ctx, actor, in.SubmissionKey, PublicIntakeScope, in.CreateApplicationInput)
}

func (s *ApplicationService) create(ctx context.Context, actor Actor, key, scope string, in CreateApplicationInput) (Response, error) {
	fp, err := Fingerprint(in)
	if err != nil {
		return Response{}, validationError(err.Error())
	}

	var created *model.Application
	var done []transitionRecord
	resp, err := s.exec.Execute(ctx, operation{
		Key:         key,
		Scope:       scope,
		Fingerprint: fp,
		Run: func(ctx context.Context, r repository.Repositories) (int, any, error) {
			done = nil
			reqs, err := r.Lenders.ListRequirements(ctx, in.ProductCategory, nil)
			if err != nil {
				return 0, nil, err
			}

			app := &model.Application{
				ID:              uuid.New().String(),
				OwnerID:         actor.Subject,
				ProductCategory: in.ProductCategory,
				Stage:           pipeline.StageReceived,
				RequestedAmount: in.RequestedAmount,
				Metadata:        in.Metadata,
			}
			if err := r.Applications.Create(ctx, app); err != nil {
				return 0, nil, err
			}
			if err := record(ctx, r, actor, model.ActionApplicationCreated, model.TargetApplication, app.ID, true,
				map[string]any{"applicationId": app.ID, "productCategory": app.ProductCategory}); err != nil {
				return 0, nil, err
			}

			initial := pipeline.InitialStage(app.ProductCategory, s.startupCategory, len(reqs) > 0)
			if initial != pipeline.StageReceived {
				tr, err := applyTransition(ctx, r, actor, app, initial, pipeline.TriggerCreate, nil)
				if err != nil {
					return 0, nil, err
				}
				done = append(done, tr)
			}

			created = app
			return http.StatusCreated, toApplicationView(app), nil
		},
	})
	if err != nil {
		return Response{}, err
	}
	if !resp.Replayed && created != nil {
		observeTransitions(done...)
		s.logger.Info("Заявка создана",
			slog.String("application_id", created.ID),
			slog.String("category", created.ProductCategory),
			slog.String("stage", created.Stage.String()),
			slog.String("owner", created.OwnerID),
		)
	}
	return resp, nil
}

// Get возвращает заявку со сводкой по документам.
func (s *ApplicationService) Get(ctx context.Context, actor Actor, id string) (ApplicationView, error) {
	return readWithRetry(ctx, s.logger, func(ctx context.Context) (ApplicationView, error) {
		repos := s.store.Repos()
		app, err := repos.Applications.GetByID(ctx, id)
		if err != nil {
			return ApplicationView{}, err
		}
		if !actor.canRead(app) {
			return ApplicationView{}, ErrForbidden
		}
		statuses, err := repos.Documents.ListStatuses(ctx, app.ID)
		if err != nil {
			return ApplicationView{}, err
		}
		v := toApplicationView(app)
		v.Documents = toDocumentStatusViews(statuses)
		return v, nil
	})
}

// Audit возвращает журнал аудита заявки (новые события первыми).
func (s *ApplicationService) Audit(ctx context.Context, actor Actor, id string, limit int) ([]AuditEventView, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return readWithRetry(ctx, s.logger, func(ctx context.Context) ([]AuditEventView, error) {
		repos := s.store.Repos()
		app, err := repos.Applications.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !actor.canRead(app) {
			return nil, ErrForbidden
		}
		events, err := repos.Audit.ListByApplication(ctx, app.ID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]AuditEventView, 0, len(events))
		for _, e := range events {
			meta := e.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			out = append(out, AuditEventView{
				ID:         e.ID,
				Actor:      e.Actor,
				Action:     e.Action,
				TargetType: e.TargetType,
				TargetID:   e.TargetID,
				Success:    e.Success,
				Metadata:   meta,
				CreatedAt:  e.CreatedAt,
			})
		}
		return out, nil
	})
}
