// Пакет lender — передача пакета заявки кредитору.
// Метод EMAIL — письмо с вложениями через SMTP, метод API — JSON по HTTP.
// PORTAL не автоматизирован и обрабатывается вызывающим кодом.
package lender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// Типизированные ошибки передачи.
var (
	// ErrTimeout — кредитор не ответил в отведённое время.
	ErrTimeout = errors.New("таймаут передачи кредитору")
	// ErrRejected — кредитор или транспорт отклонили передачу.
	ErrRejected = errors.New("кредитор отклонил передачу")
	// ErrUnsupportedMethod — для метода нет автоматического канала.
	ErrUnsupportedMethod = errors.New("метод отправки не поддерживает автоматическую передачу")
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ld_lender_dispatch_total",
		Help: "Количество передач кредиторам по методу и результату.",
	}, []string{"method", "result"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ld_lender_dispatch_duration_seconds",
		Help:    "Длительность передачи кредитору.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Package — пакет заявки для передачи.
type Package struct {
	SubmissionID   string
	IdempotencyKey string
	Payload        model.SubmissionPayload
}

// Receipt — подтверждение приёма кредитором.
type Receipt struct {
	// ExternalReference — идентификатор у кредитора (может быть пустым)
	ExternalReference string
}

// Transmitter — канал передачи пакета кредитору.
type Transmitter interface {
	Transmit(ctx context.Context, l *model.Lender, p Package) (Receipt, error)
}

// Dispatcher выбирает канал по методу отправки кредитора
// и ограничивает передачу таймаутом.
type Dispatcher struct {
	transmitters map[model.SubmissionMethod]Transmitter
	timeout      time.Duration
	logger       *slog.Logger
}

// NewDispatcher создаёт диспетчер. timeout <= 0 — без собственного таймаута.
func NewDispatcher(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transmitters: make(map[model.SubmissionMethod]Transmitter),
		timeout:      timeout,
		logger:       logger.With(slog.String("component", "lender_dispatcher")),
	}
}

// Register назначает канал методу отправки.
func (d *Dispatcher) Register(method model.SubmissionMethod, t Transmitter) {
	d.transmitters[method] = t
}

// Dispatch передаёт пакет кредитору выбранным каналом.
// Ошибки приводятся к ErrTimeout, ErrRejected или ErrUnsupportedMethod.
func (d *Dispatcher) Dispatch(ctx context.Context, l *model.Lender, p Package) (Receipt, error) {
	method := string(l.SubmissionMethod)
	t, ok := d.transmitters[l.SubmissionMethod]
	if !ok {
		dispatchTotal.WithLabelValues(method, "unsupported").Inc()
		return Receipt{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	receipt, err := t.Transmit(ctx, l, p)
	dispatchDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		err = classify(err)
		result := "error"
		if errors.Is(err, ErrTimeout) {
			result = "timeout"
		}
		dispatchTotal.WithLabelValues(method, result).Inc()
		d.logger.Warn("Передача кредитору не удалась",
			slog.String("submission_id", p.SubmissionID),
			slog.String("lender_id", l.ID),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return Receipt{}, err
	}

	dispatchTotal.WithLabelValues(method, "submitted").Inc()
	d.logger.Info("Пакет передан кредитору",
		slog.String("submission_id", p.SubmissionID),
		slog.String("lender_id", l.ID),
		slog.String("method", method),
		slog.String("external_reference", receipt.ExternalReference),
	)
	return receipt, nil
}

// classify приводит ошибку транспорта к ErrTimeout или ErrRejected.
func classify(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRejected) || errors.Is(err, ErrUnsupportedMethod) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrRejected, err)
}
