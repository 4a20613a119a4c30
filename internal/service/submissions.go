// submissions.go — отправка заявок кредиторам и журнал повторов.
//
// Попытка отправки выполняется целиком в транзакции запроса: проверка
// готовности, выбор канала, синхронная передача и запись результата.
// Строка заявки блокируется (FOR UPDATE), поэтому отправки одной заявки
// и ручные повторы одной отправки выполняются последовательно.
//
// Неудачи готовности (missing_documents, missing_submission_email) сохраняют
// отправку в статусе failed без записи повтора. Неудача передачи
// (lender_timeout, lender_error) дополнительно создаёт запись журнала повторов.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/pipeline"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
	"github.com/bigkaa/loandesk/internal/lender"
	"github.com/bigkaa/loandesk/internal/repository"
)

// maxRetryDelay — верхняя граница задержки между попытками.
const maxRetryDelay = time.Hour

var retrySweeps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ld_retry_sweeps_total",
	Help: "Обработанные записи журнала повторов по результату.",
}, []string{"result"})

// LenderDispatcher — передача пакета кредитору (реализуется *lender.Dispatcher).
type LenderDispatcher interface {
	Dispatch(ctx context.Context, l *model.Lender, p lender.Package) (lender.Receipt, error)
}

// RetryPolicy — расписание повторов неудачных отправок.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// NextDelay возвращает задержку перед попыткой после attempt-й неудачи:
// BaseDelay * 2^(attempt-1), не более часа.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Minute
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// SubmissionService — отправки кредиторам.
type SubmissionService struct {
	store      Store
	exec       *Executor
	dispatcher LenderDispatcher
	lenders    *LenderCache
	policy     RetryPolicy
	now        func() time.Time
	logger     *slog.Logger
}

// NewSubmissionService создаёт сервис отправок.
func NewSubmissionService(store Store, exec *Executor, dispatcher LenderDispatcher, lenders *LenderCache,
	policy RetryPolicy, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		store:      store,
		exec:       exec,
		dispatcher: dispatcher,
		lenders:    lenders,
		policy:     policy,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "submissions")),
	}
}

// SubmitInput — тело запроса отправки.
type SubmitInput struct {
	ApplicationID   string `json:"applicationId"`
	LenderID        string `json:"lenderId"`
	LenderProductID string `json:"lenderProductId"`
}

// attemptResult — итог попытки отправки в транзакции.
type attemptResult struct {
	sub         *model.LenderSubmission
	retry       *model.SubmissionRetry
	transitions []transitionRecord
}

// Submit отправляет заявку кредитору.
//
// Повтор с тем же ключом возвращает текущее состояние уже созданной
// отправки (200), не выполняя попытку заново.
func (s *SubmissionService) Submit(ctx context.Context, actor Actor, key string, in SubmitInput) (Response, error) {
	if err := requireKey(key); err != nil {
		return Response{}, err
	}
	if !actor.Privileged() {
		return Response{}, ErrForbidden.WithMessage("отправка кредитору требует роли staff или admin")
	}
	for _, f := range [][2]string{
		{"applicationId", in.ApplicationID},
		{"lenderId", in.LenderID},
		{"lenderProductId", in.LenderProductID},
	} {
		if err := validateUUID(f[0], f[1]); err != nil {
			return Response{}, err
		}
	}
	fp, err := Fingerprint(in)
	if err != nil {
		return Response{}, validationError(err.Error())
	}

	var res *attemptResult
	resp, err := s.exec.Execute(ctx, operation{
		Key:         key,
		Scope:       scopeFor("submissions.create", actor),
		Fingerprint: fp,
		Replay: func(ctx context.Context, r repository.Repositories, _ *model.IdempotencyRecord) (*Response, error) {
			sub, err := r.Submissions.GetByIdempotencyKey(ctx, actor.Subject, key)
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return currentResponse(ctx, r, sub)
		},
		Run: func(ctx context.Context, r repository.Repositories) (int, any, error) {
			res = nil
			app, err := r.Applications.GetForUpdate(ctx, in.ApplicationID)
			if err != nil {
				return 0, nil, notFoundAs(err, "заявка не найдена")
			}
			l, p, err := s.resolveLender(ctx, r, in.LenderID, in.LenderProductID)
			if err != nil {
				return 0, nil, err
			}

			sub := &model.LenderSubmission{
				ID:              uuid.New().String(),
				ApplicationID:   app.ID,
				LenderID:        l.ID,
				LenderProductID: p.ID,
				IdempotencyKey:  key,
				CreatedBy:       actor.Subject,
			}
			result, err := s.attempt(ctx, r, actor, app, l, p, sub, false)
			res = result
			if err != nil {
				return 0, nil, err
			}
			return http.StatusCreated, toSubmissionView(result.sub, result.retry), nil
		},
	})
	if err != nil {
		return Response{}, err
	}
	if !resp.Replayed {
		s.logOutcome(res, "Отправка кредитору создана")
	}
	return resp, nil
}

// Retry повторяет отправку со статусом failed.
// Для submitted — no-op с текущим состоянием, для pending_manual — validation_error.
func (s *SubmissionService) Retry(ctx context.Context, actor Actor, key, submissionID string) (Response, error) {
	if err := requireKey(key); err != nil {
		return Response{}, err
	}
	if !actor.Privileged() {
		return Response{}, ErrForbidden.WithMessage("повтор отправки требует роли staff или admin")
	}
	if err := validateUUID("submissionId", submissionID); err != nil {
		return Response{}, err
	}
	fp, err := Fingerprint(map[string]string{"submissionId": submissionID})
	if err != nil {
		return Response{}, validationError(err.Error())
	}

	var res *attemptResult
	resp, err := s.exec.Execute(ctx, operation{
		Key:         key,
		Scope:       scopeFor("submissions.retry", actor),
		Fingerprint: fp,
		Run: func(ctx context.Context, r repository.Repositories) (int, any, error) {
			res = nil
			sub, err := r.Submissions.GetForUpdate(ctx, submissionID)
			if err != nil {
				return 0, nil, notFoundAs(err, "отправка не найдена")
			}
			switch sub.Status {
			case model.SubmissionSubmitted:
				rt, err := optionalRetry(ctx, r, sub.ID)
				if err != nil {
					return 0, nil, err
				}
				return http.StatusOK, toSubmissionView(sub, rt), nil
			case model.SubmissionPendingManual:
				return 0, nil, validationError("отправка ожидает ручной передачи через портал кредитора")
			}

			result, err := s.redispatch(ctx, r, actor, sub)
			res = result
			if err != nil {
				return 0, nil, err
			}
			return http.StatusOK, toSubmissionView(result.sub, result.retry), nil
		},
	})
	if err != nil {
		return Response{}, err
	}
	if !resp.Replayed {
		s.logOutcome(res, "Отправка кредитору повторена")
	}
	return resp, nil
}

// Get возвращает отправку с записью журнала повторов.
func (s *SubmissionService) Get(ctx context.Context, actor Actor, id string) (SubmissionView, error) {
	if err := validateUUID("submissionId", id); err != nil {
		return SubmissionView{}, err
	}
	return readWithRetry(ctx, s.logger, func(ctx context.Context) (SubmissionView, error) {
		repos := s.store.Repos()
		sub, err := repos.Submissions.GetByID(ctx, id)
		if err != nil {
			return SubmissionView{}, err
		}
		if !rbac.AtLeast(actor.Role, rbac.RoleReadonly) {
			app, err := repos.Applications.GetByID(ctx, sub.ApplicationID)
			if err != nil {
				return SubmissionView{}, err
			}
			if !actor.canRead(app) {
				return SubmissionView{}, ErrForbidden
			}
		}
		rt, err := optionalRetry(ctx, repos, sub.ID)
		if err != nil {
			return SubmissionView{}, err
		}
		return toSubmissionView(sub, rt), nil
	})
}

// SweepDue обрабатывает до batch созревших записей журнала повторов,
// каждую в собственной транзакции. Возвращает число обработанных записей.
func (s *SubmissionService) SweepDue(ctx context.Context, batch int) (int, error) {
	processed := 0
	for processed < batch {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		found, result, err := s.sweepOne(ctx)
		if err != nil {
			retrySweeps.WithLabelValues("error").Inc()
			return processed, err
		}
		if !found {
			break
		}
		retrySweeps.WithLabelValues(result).Inc()
		processed++
	}
	return processed, nil
}

func (s *SubmissionService) sweepOne(ctx context.Context) (bool, string, error) {
	var (
		found  bool
		result string
		res    *attemptResult
	)
	actor := SystemActor()
	err := s.store.RunInTx(ctx, func(r repository.Repositories) error {
		found, result, res = false, "", nil
		due, err := r.Submissions.ListDueRetries(ctx, s.now(), 1)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		found = true
		rt := due[0]

		sub, err := r.Submissions.GetByID(ctx, rt.SubmissionID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubmissionFailed {
			result = "canceled"
			return s.cancelRetry(ctx, r, actor, sub, rt, "submission_"+string(sub.Status))
		}
		if s.policy.MaxAttempts > 0 && rt.AttemptCount >= s.policy.MaxAttempts {
			result = "exhausted"
			return s.cancelRetry(ctx, r, actor, sub, rt, "max_attempts")
		}

		attemptRes, attemptErr := s.redispatch(ctx, r, actor, sub)
		res = attemptRes
		if attemptErr != nil {
			se := classify(attemptErr)
			if !se.Storable() {
				return attemptErr
			}
			result = "failed"
			return nil
		}
		result = string(attemptRes.sub.Status)
		return nil
	})
	if err != nil {
		return found, "", err
	}
	if res != nil {
		s.logOutcome(res, "Повтор отправки по расписанию")
	}
	return found, result, nil
}

// redispatch повторяет попытку для существующей отправки.
func (s *SubmissionService) redispatch(ctx context.Context, r repository.Repositories, actor Actor,
	sub *model.LenderSubmission) (*attemptResult, error) {
	app, err := r.Applications.GetForUpdate(ctx, sub.ApplicationID)
	if err != nil {
		return nil, err
	}
	l, p, err := s.resolveLender(ctx, r, sub.LenderID, sub.LenderProductID)
	if err != nil {
		return nil, err
	}
	return s.attempt(ctx, r, actor, app, l, p, sub, true)
}

// resolveLender возвращает кредитора и продукт через кэш.
func (s *SubmissionService) resolveLender(ctx context.Context, r repository.Repositories, lenderID, productID string) (*model.Lender, *model.LenderProduct, error) {
	l, err := s.lenders.Lender(ctx, r.Lenders, lenderID)
	if err != nil {
		return nil, nil, notFoundAs(err, "кредитор не найден")
	}
	p, err := s.lenders.Product(ctx, r.Lenders, productID)
	if err != nil {
		return nil, nil, notFoundAs(err, "продукт кредитора не найден")
	}
	if p.LenderID != l.ID {
		return nil, nil, validationError("продукт не принадлежит кредитору")
	}
	return l, p, nil
}

// attempt выполняет одну попытку отправки: проверка стадии и готовности,
// выбор канала, передача и запись результата. existing — отправка уже
// сохранена (повтор), иначе создаётся новая строка.
// Доменные ошибки возвращаются вместе с результатом: строки, которые
// они создали, фиксируются вызывающей транзакцией.
func (s *SubmissionService) attempt(ctx context.Context, r repository.Repositories, actor Actor,
	app *model.Application, l *model.Lender, p *model.LenderProduct,
	sub *model.LenderSubmission, existing bool) (*attemptResult, error) {
	res := &attemptResult{sub: sub}
	if existing {
		rt, err := optionalRetry(ctx, r, sub.ID)
		if err != nil {
			return nil, err
		}
		res.retry = rt
	}

	if app.Stage.IsTerminal() {
		if res.retry != nil && res.retry.Status == model.RetryPending {
			if err := s.cancelRetry(ctx, r, actor, sub, res.retry, "application_terminal"); err != nil {
				return nil, err
			}
		}
		return res, ErrInvalidTransition.WithMessage(fmt.Sprintf("заявка в терминальной стадии %s", app.Stage))
	}

	sat, err := loadSatisfaction(ctx, r, app, &p.ID)
	if err != nil {
		return nil, err
	}
	payload, err := buildPayload(ctx, r, app, l, p)
	if err != nil {
		return nil, err
	}
	sub.Payload = payload

	if !sat.Satisfied {
		if err := s.fail(ctx, r, actor, res, model.FailureMissingDocuments, "", existing, false); err != nil {
			return nil, err
		}
		return res, ErrMissingDocuments.WithDetails(map[string]any{
			"missing":      sat.Missing(),
			"submissionId": sub.ID,
		})
	}

	if app.Stage != pipeline.StageUnderReview && app.Stage != pipeline.StageLenderSubmitted {
		if res.retry != nil && res.retry.Status == model.RetryPending {
			if err := s.scheduleRetry(ctx, r, res, CodeInvalidTransition); err != nil {
				return nil, err
			}
		}
		return res, ErrInvalidTransition.WithMessage(
			fmt.Sprintf("отправка возможна из стадий %s и %s, текущая %s",
				pipeline.StageUnderReview, pipeline.StageLenderSubmitted, app.Stage))
	}

	switch l.SubmissionMethod {
	case model.MethodPortal:
		return res, s.markPendingManual(ctx, r, actor, app, res, existing)
	case model.MethodEmail:
		if l.SubmissionEmail == nil || *l.SubmissionEmail == "" {
			if err := s.fail(ctx, r, actor, res, model.FailureMissingSubmissionEmail, "", existing, false); err != nil {
				return nil, err
			}
			return res, ErrMissingSubmissionEmail.WithDetails(map[string]any{"submissionId": sub.ID})
		}
	}

	receipt, dispatchErr := s.dispatcher.Dispatch(ctx, l, lender.Package{
		SubmissionID:   sub.ID,
		IdempotencyKey: sub.IdempotencyKey,
		Payload:        sub.Payload,
	})
	if dispatchErr != nil {
		reason, se := model.FailureLenderError, ErrLenderError
		if errors.Is(dispatchErr, lender.ErrTimeout) {
			reason, se = model.FailureLenderTimeout, ErrLenderTimeout
		}
		if err := s.fail(ctx, r, actor, res, reason, dispatchErr.Error(), existing, true); err != nil {
			return nil, err
		}
		return res, se.WithDetails(map[string]any{
			"submissionId": sub.ID,
			"attempt":      res.retry.AttemptCount,
		})
	}

	sub.Status = model.SubmissionSubmitted
	sub.FailureReason = nil
	if receipt.ExternalReference != "" {
		ref := receipt.ExternalReference
		sub.ExternalReference = &ref
	}
	if err := persistSubmission(ctx, r, sub, existing); err != nil {
		return nil, err
	}
	if err := r.Applications.AssignLender(ctx, app.ID, l.ID, p.ID); err != nil {
		return nil, err
	}
	if app.Stage == pipeline.StageUnderReview {
		tr, err := applyTransition(ctx, r, actor, app, pipeline.StageLenderSubmitted, pipeline.TriggerSubmission,
			map[string]any{"submissionId": sub.ID})
		if err != nil {
			return nil, err
		}
		res.transitions = append(res.transitions, tr)
	}
	if res.retry != nil {
		res.retry.Status = model.RetryCompleted
		res.retry.NextAttemptAt = nil
		if err := r.Submissions.UpsertRetry(ctx, res.retry); err != nil {
			return nil, err
		}
	}

	action := model.ActionSubmissionCreated
	if existing {
		action = model.ActionSubmissionRetried
	}
	if err := record(ctx, r, actor, action, model.TargetSubmission, sub.ID, true, map[string]any{
		"applicationId": app.ID,
		"lenderId":      l.ID,
		"method":        string(l.SubmissionMethod),
		"attachments":   len(sub.Payload.Attachments),
		"status":        string(sub.Status),
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// markPendingManual фиксирует отправку через портал: передачи нет, стадия не меняется.
func (s *SubmissionService) markPendingManual(ctx context.Context, r repository.Repositories, actor Actor,
	app *model.Application, res *attemptResult, existing bool) error {
	sub := res.sub
	sub.Status = model.SubmissionPendingManual
	sub.FailureReason = nil
	if err := persistSubmission(ctx, r, sub, existing); err != nil {
		return err
	}
	if err := r.Applications.AssignLender(ctx, app.ID, sub.LenderID, sub.LenderProductID); err != nil {
		return err
	}
	if res.retry != nil && res.retry.Status == model.RetryPending {
		if err := s.cancelRetry(ctx, r, actor, sub, res.retry, "pending_manual"); err != nil {
			return err
		}
	}
	return record(ctx, r, actor, model.ActionSubmissionPendingManual, model.TargetSubmission, sub.ID, true,
		map[string]any{"applicationId": app.ID, "lenderId": sub.LenderID})
}

// fail сохраняет неудачу попытки. transport — неудача передачи: создаёт
// запись повтора, если её ещё нет. Существующая запись сдвигается в любом случае.
func (s *SubmissionService) fail(ctx context.Context, r repository.Repositories, actor Actor, res *attemptResult,
	reason, detail string, existing, transport bool) error {
	sub := res.sub
	sub.Status = model.SubmissionFailed
	sub.FailureReason = &reason
	if err := persistSubmission(ctx, r, sub, existing); err != nil {
		return err
	}

	lastError := reason
	if detail != "" {
		lastError = reason + ": " + detail
	}
	if transport || res.retry != nil {
		if err := s.scheduleRetry(ctx, r, res, lastError); err != nil {
			return err
		}
	}

	action := model.ActionSubmissionFailed
	if existing {
		action = model.ActionSubmissionRetried
	}
	meta := map[string]any{
		"applicationId": sub.ApplicationID,
		"lenderId":      sub.LenderID,
		"reason":        reason,
	}
	if res.retry != nil {
		meta["attempt"] = res.retry.AttemptCount
	}
	return record(ctx, r, actor, action, model.TargetSubmission, sub.ID, false, meta)
}

// scheduleRetry увеличивает счётчик попыток и назначает следующую по расписанию.
func (s *SubmissionService) scheduleRetry(ctx context.Context, r repository.Repositories, res *attemptResult, lastError string) error {
	rt := res.retry
	if rt == nil {
		rt = &model.SubmissionRetry{SubmissionID: res.sub.ID}
	}
	rt.AttemptCount++
	rt.Status = model.RetryPending
	next := s.now().Add(s.policy.NextDelay(rt.AttemptCount))
	rt.NextAttemptAt = &next
	rt.LastError = &lastError
	if err := r.Submissions.UpsertRetry(ctx, rt); err != nil {
		return err
	}
	res.retry = rt
	return nil
}

// cancelRetry отменяет запись журнала повторов.
func (s *SubmissionService) cancelRetry(ctx context.Context, r repository.Repositories, actor Actor,
	sub *model.LenderSubmission, rt *model.SubmissionRetry, reason string) error {
	rt.Status = model.RetryCanceled
	rt.NextAttemptAt = nil
	rt.LastError = &reason
	if err := r.Submissions.UpsertRetry(ctx, rt); err != nil {
		return err
	}
	return record(ctx, r, actor, model.ActionRetryCanceled, model.TargetSubmission, sub.ID, true,
		map[string]any{
			"applicationId": sub.ApplicationID,
			"reason":        reason,
			"attempt":       rt.AttemptCount,
		})
}

func (s *SubmissionService) logOutcome(res *attemptResult, msg string) {
	if res == nil || res.sub == nil {
		return
	}
	observeTransitions(res.transitions...)
	attrs := []any{
		slog.String("submission_id", res.sub.ID),
		slog.String("application_id", res.sub.ApplicationID),
		slog.String("status", string(res.sub.Status)),
	}
	if res.sub.FailureReason != nil {
		attrs = append(attrs, slog.String("reason", *res.sub.FailureReason))
	}
	if res.retry != nil {
		attrs = append(attrs, slog.Int("attempt", res.retry.AttemptCount))
	}
	s.logger.Info(msg, attrs...)
}

// buildPayload собирает снимок пакета из принятых текущих версий документов.
func buildPayload(ctx context.Context, r repository.Repositories, app *model.Application,
	l *model.Lender, p *model.LenderProduct) (model.SubmissionPayload, error) {
	docs, err := r.Documents.ListAcceptedCurrent(ctx, app.ID)
	if err != nil {
		return model.SubmissionPayload{}, err
	}
	payload := model.SubmissionPayload{
		ApplicationID:   app.ID,
		ProductCategory: app.ProductCategory,
		LenderName:      l.Name,
		ProductName:     p.Name,
		Method:          string(l.SubmissionMethod),
		Attachments:     make([]model.Attachment, 0, len(docs)),
		Metadata:        app.Metadata,
	}
	if app.RequestedAmount != nil {
		amt := app.RequestedAmount.StringFixed(2)
		payload.RequestedAmount = &amt
	}
	for _, d := range docs {
		payload.Attachments = append(payload.Attachments, model.Attachment{
			DocumentID:   d.Document.ID,
			DocumentType: d.Document.DocumentType,
			VersionID:    d.Version.ID,
			Version:      d.Version.Version,
			FileName:     d.Version.FileName,
			ContentType:  d.Version.ContentType,
			SizeBytes:    d.Version.SizeBytes,
			BlobKey:      d.Version.BlobKey,
			Checksum:     d.Version.Checksum,
		})
	}
	return payload, nil
}

func persistSubmission(ctx context.Context, r repository.Repositories, sub *model.LenderSubmission, existing bool) error {
	if existing {
		return r.Submissions.UpdateOutcome(ctx, sub)
	}
	return r.Submissions.Create(ctx, sub)
}

func optionalRetry(ctx context.Context, r repository.Repositories, submissionID string) (*model.SubmissionRetry, error) {
	rt, err := r.Submissions.GetRetry(ctx, submissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rt, err
}

// currentResponse — текущее состояние отправки как ответ 200.
func currentResponse(ctx context.Context, r repository.Repositories, sub *model.LenderSubmission) (*Response, error) {
	rt, err := optionalRetry(ctx, r, sub.ID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(toSubmissionView(sub, rt))
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации отправки: %w", err)
	}
	return &Response{Status: http.StatusOK, Body: body}, nil
}

// notFoundAs уточняет сообщение not_found для ErrNotFound репозитория.
func notFoundAs(err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound.WithMessage(msg)
	}
	return err
}
