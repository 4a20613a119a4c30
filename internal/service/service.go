// service.go — общие зависимости сервисов: хранилище, инициатор запроса,
// запись аудита и повтор чтений.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
	"github.com/bigkaa/loandesk/internal/repository"
)

// Store — репозитории вне транзакции и выполнение функции в транзакции.
// Реализуется *repository.Store.
type Store interface {
	Repos() repository.Repositories
	RunInTx(ctx context.Context, fn func(r repository.Repositories) error) error
}

// SystemSubject — субъект фоновых операций (обход журнала повторов).
const SystemSubject = "system"

// Actor — инициатор операции.
type Actor struct {
	// Subject — sub из JWT, "public:<submissionKey>" для публичного приёма
	// или SystemSubject.
	Subject string
	// Role — эффективная роль (пусто — роль не назначена).
	Role string
}

// SystemActor — инициатор фоновых операций.
func SystemActor() Actor {
	return Actor{Subject: SystemSubject, Role: rbac.RoleAdmin}
}

// Privileged — роль staff или admin.
func (a Actor) Privileged() bool {
	return rbac.AtLeast(a.Role, rbac.RoleStaff)
}

// canRead — владелец заявки или любая назначенная роль.
func (a Actor) canRead(app *model.Application) bool {
	return app.OwnerID == a.Subject || rbac.AtLeast(a.Role, rbac.RoleReadonly)
}

// canWrite — владелец заявки или staff/admin.
func (a Actor) canWrite(app *model.Application) bool {
	return app.OwnerID == a.Subject || a.Privileged()
}

// record пишет событие аудита в текущей транзакции.
func record(ctx context.Context, r repository.Repositories, actor Actor, action, targetType, targetID string,
	success bool, metadata map[string]any) error {
	return r.Audit.Insert(ctx, &model.AuditEvent{
		Actor:      actor.Subject,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Success:    success,
		Metadata:   metadata,
	})
}

// readWithRetry выполняет чтение и повторяет его один раз при ошибке инфраструктуры.
// Результат ошибки приводится к *Error.
func readWithRetry[T any](ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err != nil && retryable(err) && ctx.Err() == nil {
		logger.Warn("Ошибка чтения, повтор", slog.String("error", err.Error()))
		v, err = fn(ctx)
	}
	if err != nil {
		se := classify(err)
		if se.Code == CodeServiceUnavailable {
			logger.Error("Чтение не удалось после повтора", slog.String("error", err.Error()))
		}
		var zero T
		return zero, se
	}
	return v, nil
}
