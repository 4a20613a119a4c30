// audit_relay.go — публикация журнала аудита во внешнюю шину (transactional outbox).
//
// События аудита пишутся в той же транзакции, что и мутация. AuditRelay
// периодически выбирает неопубликованные события (FOR UPDATE SKIP LOCKED),
// публикует их и отмечает published_at в той же транзакции. Сбой публикации
// откатывает транзакцию: события будут отправлены на следующем тике
// (доставка at-least-once, потребитель дедуплицирует по event-id).
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/repository"
)

var (
	auditPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_audit_outbox_published_total",
		Help: "Опубликованные события аудита.",
	})
	auditPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_audit_outbox_errors_total",
		Help: "Неудачные попытки публикации событий аудита.",
	})
)

// Publisher — публикация пачки событий аудита (реализуется *events.KafkaPublisher).
type Publisher interface {
	Publish(ctx context.Context, batch []*model.AuditEvent) error
}

// AuditRelay — фоновая публикация outbox журнала аудита.
type AuditRelay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batch     int
	now       func() time.Time
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAuditRelay создаёт публикацию журнала аудита.
func NewAuditRelay(store Store, publisher Publisher, interval time.Duration, batch int, logger *slog.Logger) *AuditRelay {
	if batch <= 0 {
		batch = 100
	}
	return &AuditRelay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "audit_relay")),
	}
}

// Start запускает фоновую горутину публикации.
func (a *AuditRelay) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go func() {
		defer close(a.done)

		a.logger.Info("Публикация журнала аудита запущена",
			slog.String("interval", a.interval.String()),
		)

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.logger.Info("Публикация журнала аудита остановлена")
				return
			case <-ticker.C:
				if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
					a.logger.Warn("Ошибка публикации журнала аудита",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (a *AuditRelay) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}
}

// RunOnce публикует одну пачку неопубликованных событий.
// Возвращает число опубликованных событий.
func (a *AuditRelay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := a.store.RunInTx(ctx, func(r repository.Repositories) error {
		published = 0
		batch, err := r.Audit.ListUnpublished(ctx, a.batch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := a.publisher.Publish(ctx, batch); err != nil {
			auditPublishErrors.Inc()
			return err
		}
		ids := make([]int64, 0, len(batch))
		for _, e := range batch {
			ids = append(ids, e.ID)
		}
		if err := r.Audit.MarkPublished(ctx, ids, a.now()); err != nil {
			return err
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		auditPublished.Add(float64(published))
		a.logger.Debug("События аудита опубликованы", slog.Int("count", published))
	}
	return published, nil
}
