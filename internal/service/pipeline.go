// pipeline.go — сервис конвейера стадий заявки.
//
// Явные переходы проверяются pipeline.Evaluate и записываются
// условным UPDATE по ранее прочитанной стадии (CAS): устаревшее чтение
// проигрывает гонку и получает stage_conflict.
// Автоматический переход после решения по документу выполняется
// в отдельной транзакции: его сбой не отменяет само решение.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/pipeline"
	"github.com/bigkaa/loandesk/internal/domain/requirements"
	"github.com/bigkaa/loandesk/internal/repository"
)

var pipelineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ld_pipeline_transitions_total",
	Help: "Выполненные переходы стадий заявок.",
}, []string{"from", "to", "trigger"})

// transitionRecord — выполненный в транзакции переход (для метрик после фиксации).
type transitionRecord struct {
	From    pipeline.Stage
	To      pipeline.Stage
	Trigger pipeline.Trigger
}

func observeTransitions(ts ...transitionRecord) {
	for _, t := range ts {
		pipelineTransitions.WithLabelValues(t.From.String(), t.To.String(), string(t.Trigger)).Inc()
	}
}

// applyTransition записывает переход стадии (CAS) и событие аудита.
// При переходе в терминальную стадию отменяет pending-повторы отправок заявки.
// app.Stage обновляется на целевую стадию.
func applyTransition(ctx context.Context, r repository.Repositories, actor Actor, app *model.Application,
	to pipeline.Stage, trigger pipeline.Trigger, metadata map[string]any) (transitionRecord, error) {
	from := app.Stage
	ok, err := r.Applications.CompareAndSetStage(ctx, app.ID, from, to)
	if err != nil {
		return transitionRecord{}, err
	}
	if !ok {
		return transitionRecord{}, ErrStageConflict
	}

	if to.IsTerminal() {
		if _, err := r.Submissions.CancelPendingRetries(ctx, app.ID, "application_terminal"); err != nil {
			return transitionRecord{}, err
		}
	}

	meta := map[string]any{
		"applicationId": app.ID,
		"from":          from.String(),
		"to":            to.String(),
		"trigger":       string(trigger),
	}
	for k, v := range metadata {
		meta[k] = v
	}
	if err := record(ctx, r, actor, model.ActionPipelineTransition, model.TargetApplication, app.ID, true, meta); err != nil {
		return transitionRecord{}, err
	}

	app.Stage = to
	return transitionRecord{From: from, To: to, Trigger: trigger}, nil
}

// loadSatisfaction вычисляет удовлетворённость требований к документам заявки.
// productID — продукт кредитора, чьи требования добавляются к базовым (nil — только базовые).
func loadSatisfaction(ctx context.Context, r repository.Repositories, app *model.Application, productID *string) (requirements.Satisfaction, error) {
	reqs, err := r.Lenders.ListRequirements(ctx, app.ProductCategory, productID)
	if err != nil {
		return requirements.Satisfaction{}, err
	}
	statuses, err := r.Documents.ListStatuses(ctx, app.ID)
	if err != nil {
		return requirements.Satisfaction{}, err
	}
	return requirements.Evaluate(reqs, app.RequestedAmount, statuses), nil
}

func missingDocumentsError(sat requirements.Satisfaction) *Error {
	return ErrMissingDocuments.WithDetails(map[string]any{"missing": sat.Missing()})
}

// PipelineService — явные и автоматические переходы стадий.
type PipelineService struct {
	store  Store
	exec   *Executor
	logger *slog.Logger
}

// NewPipelineService создаёт сервис конвейера.
func NewPipelineService(store Store, exec *Executor, logger *slog.Logger) *PipelineService {
	return &PipelineService{
		store:  store,
		exec:   exec,
		logger: logger.With(slog.String("component", "pipeline")),
	}
}

// TransitionInput — тело запроса явного перехода.
type TransitionInput struct {
	State    string `json:"state"`
	Override bool   `json:"override,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Transition выполняет явный переход стадии заявки.
//
// Ошибки: validation_error, forbidden, not_found, invalid_transition,
// missing_documents, stage_conflict.
func (s *PipelineService) Transition(ctx context.Context, actor Actor, key, applicationID string, in TransitionInput) (Response, error) {
	if err := requireKey(key); err != nil {
		return Response{}, err
	}
	if !actor.Privileged() {
		return Response{}, ErrForbidden.WithMessage("переход стадии требует роли staff или admin")
	}
	if strings.TrimSpace(in.State) == "" {
		return Response{}, validationError("state обязателен")
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Override && in.Reason == "" {
		return Response{}, validationError("reason обязателен при override")
	}

	target, err := pipeline.ParseStage(in.State)
	if err != nil {
		// Неизвестная стадия отклоняется в Evaluate как invalid_transition
		target = pipeline.Stage(in.State)
	}

	fp, err := Fingerprint(struct {
		ApplicationID string          `json:"applicationId"`
		Input         TransitionInput `json:"input"`
	}{applicationID, in})
	if err != nil {
		return Response{}, validationError(err.Error())
	}

	var done []transitionRecord
	resp, err := s.exec.Execute(ctx, operation{
		Key:         key,
		Scope:       scopeFor("pipeline.transition", actor),
		Fingerprint: fp,
		Run: func(ctx context.Context, r repository.Repositories) (int, any, error) {
			done = nil
			app, err := r.Applications.GetByID(ctx, applicationID)
			if err != nil {
				return 0, nil, err
			}

			sat := requirements.Satisfaction{Satisfied: true}
			if pipeline.IsReviewGated(target) {
				if sat, err = loadSatisfaction(ctx, r, app, app.LenderProductID); err != nil {
					return 0, nil, err
				}
			}

			plan, err := pipeline.Evaluate(app.Stage, pipeline.Request{
				Target:     target,
				Override:   in.Override,
				Privileged: actor.Privileged(),
				Satisfied:  sat.Satisfied,
			})
			if err != nil {
				return 0, nil, transitionError(err, sat)
			}

			trigger := pipeline.TriggerExplicit
			meta := map[string]any{}
			if in.Override {
				trigger = pipeline.TriggerOverride
				meta["reason"] = in.Reason
				meta["forced"] = plan.Forced
			}
			tr, err := applyTransition(ctx, r, actor, app, plan.To, trigger, meta)
			if err != nil {
				return 0, nil, err
			}
			if in.Override {
				if err := record(ctx, r, actor, model.ActionAdminOverride, model.TargetApplication, app.ID, true,
					map[string]any{
						"applicationId": app.ID,
						"from":          plan.From.String(),
						"to":            plan.To.String(),
						"reason":        in.Reason,
						"forced":        plan.Forced,
					}); err != nil {
					return 0, nil, err
				}
			}
			done = append(done, tr)

			return 200, TransitionView{
				ApplicationID: app.ID,
				From:          plan.From.String(),
				To:            plan.To.String(),
				Trigger:       string(trigger),
				Forced:        plan.Forced,
			}, nil
		},
	})
	if err != nil {
		return Response{}, err
	}
	if !resp.Replayed {
		observeTransitions(done...)
		for _, t := range done {
			s.logger.Info("Стадия заявки изменена",
				slog.String("application_id", applicationID),
				slog.String("from", t.From.String()),
				slog.String("to", t.To.String()),
				slog.String("trigger", string(t.Trigger)),
				slog.String("actor", actor.Subject),
			)
		}
	}
	return resp, nil
}

// transitionError переводит ошибку проверки перехода в *Error.
func transitionError(err error, sat requirements.Satisfaction) error {
	var te *pipeline.TransitionError
	if !errors.As(err, &te) {
		return err
	}
	switch te.Code {
	case pipeline.CodeMissingDocuments:
		return missingDocumentsError(sat).WithMessage(te.Message)
	case pipeline.CodeForbidden:
		return ErrForbidden.WithMessage(te.Message)
	default:
		return ErrInvalidTransition.WithMessage(te.Message)
	}
}

// Satisfaction возвращает текущую удовлетворённость требований к документам заявки.
// Учитываются требования назначенного продукта кредитора, если он есть.
func (s *PipelineService) Satisfaction(ctx context.Context, actor Actor, applicationID string) (SatisfactionView, error) {
	return readWithRetry(ctx, s.logger, func(ctx context.Context) (SatisfactionView, error) {
		repos := s.store.Repos()
		app, err := repos.Applications.GetByID(ctx, applicationID)
		if err != nil {
			return SatisfactionView{}, err
		}
		if !actor.canRead(app) {
			return SatisfactionView{}, ErrForbidden
		}
		sat, err := loadSatisfaction(ctx, repos, app, app.LenderProductID)
		if err != nil {
			return SatisfactionView{}, err
		}
		missing := sat.Missing()
		if missing == nil {
			missing = []string{}
		}
		items := sat.Items
		if items == nil {
			items = []requirements.Item{}
		}
		return SatisfactionView{
			ApplicationID: app.ID,
			Stage:         app.Stage.String(),
			Satisfied:     sat.Satisfied,
			Missing:       missing,
			Items:         items,
		}, nil
	})
}

// reviewOutcome — решение по документу, после которого пересчитывается стадия.
type reviewOutcome struct {
	ApplicationID  string
	DocumentType   string
	Decision       model.ReviewDecision
	CurrentVersion bool
}

// AutoAdvance пересчитывает стадию заявки после решения по документу.
// Выполняется в собственной транзакции; проигранная гонка CAS или сбой
// хранилища оставляют стадию прежней и только логируются.
func (s *PipelineService) AutoAdvance(ctx context.Context, actor Actor, o reviewOutcome) {
	var done *transitionRecord
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		done = nil
		app, err := r.Applications.GetByID(ctx, o.ApplicationID)
		if err != nil {
			return err
		}
		sat, err := loadSatisfaction(ctx, r, app, app.LenderProductID)
		if err != nil {
			return err
		}
		to, changed := pipeline.AutoAdvance(app.Stage, pipeline.ReviewOutcome{
			Accepted:       o.Decision == model.DecisionAccepted,
			RequiredType:   sat.Requires(o.DocumentType),
			CurrentVersion: o.CurrentVersion,
			Satisfied:      sat.Satisfied,
		})
		if !changed {
			return nil
		}
		tr, err := applyTransition(ctx, r, actor, app, to, pipeline.TriggerReview, map[string]any{
			"documentType": o.DocumentType,
			"decision":     string(o.Decision),
		})
		if err != nil {
			return err
		}
		done = &tr
		return nil
	})
	if err != nil {
		s.logger.Warn("Автоматический переход не выполнен",
			slog.String("application_id", o.ApplicationID),
			slog.String("document_type", o.DocumentType),
			slog.String("error", err.Error()),
		)
		return
	}
	if done != nil {
		observeTransitions(*done)
		s.logger.Info("Стадия заявки изменена автоматически",
			slog.String("application_id", o.ApplicationID),
			slog.String("from", done.From.String()),
			slog.String("to", done.To.String()),
		)
	}
}
