// retry_sweeper.go — фоновый обход журнала повторов отправок.
//
// RetrySweeper запускает горутину с ticker (LD_RETRY_SWEEP_INTERVAL).
// Каждый тик обрабатывает до LD_RETRY_BATCH_SIZE созревших записей,
// по одной транзакции на запись. Записи, заблокированные другим
// экземпляром или ручным повтором, пропускаются.
//
// Prometheus-метрики:
//   - ld_retry_sweeps_total{result} — обработанные записи по результату
//   - ld_retry_sweep_duration_seconds — длительность одного обхода
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retrySweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ld_retry_sweep_duration_seconds",
	Help:    "Длительность обхода журнала повторов",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms … ~20s
})

// RetrySweeper — фоновый обход журнала повторов.
type RetrySweeper struct {
	submissions *SubmissionService
	interval    time.Duration
	batch       int
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetrySweeper создаёт обход журнала повторов.
func NewRetrySweeper(submissions *SubmissionService, interval time.Duration, batch int, logger *slog.Logger) *RetrySweeper {
	if batch <= 0 {
		batch = 20
	}
	return &RetrySweeper{
		submissions: submissions,
		interval:    interval,
		batch:       batch,
		logger:      logger.With(slog.String("component", "retry_sweeper")),
	}
}

// Start запускает фоновую горутину обхода.
func (s *RetrySweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Обход журнала повторов запущен",
			slog.String("interval", s.interval.String()),
			slog.Int("batch", s.batch),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Обход журнала повторов остановлен")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *RetrySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce выполняет один обход. Возвращает число обработанных записей.
func (s *RetrySweeper) RunOnce(ctx context.Context) int {
	start := time.Now()
	n, err := s.submissions.SweepDue(ctx, s.batch)
	retrySweepDuration.Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil {
		s.logger.Error("Ошибка обхода журнала повторов",
			slog.Int("processed", n),
			slog.String("error", err.Error()),
		)
		return n
	}
	if n > 0 {
		s.logger.Info("Обход журнала повторов завершён",
			slog.Int("processed", n),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return n
}
