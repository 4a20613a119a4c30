// idempotency.go — идемпотентное выполнение мутаций.
//
// Запись идемпотентности занимается в той же транзакции, что и сама мутация.
// Уникальность (key, scope) — единственный арбитр конкурентных дубликатов:
// вставка проигравшего ждёт фиксации победителя и затем читает его ответ.
// При откате мутации запись откатывается вместе с ней, и повтор с тем же
// ключом выполняется заново.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/repository"
)

// ClaimOutcome — результат захвата ключа идемпотентности.
type ClaimOutcome string

const (
	// ClaimFresh — ключ занят этим вызовом, мутация выполняется.
	ClaimFresh ClaimOutcome = "fresh"
	// ClaimReplay — операция уже завершена, возвращается сохранённый ответ.
	ClaimReplay ClaimOutcome = "replay"
	// ClaimConflict — ключ занят запросом с другим телом.
	ClaimConflict ClaimOutcome = "conflict"
)

var idempotencyClaims = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ld_idempotency_claims_total",
	Help: "Захваты ключей идемпотентности по результату.",
}, []string{"outcome"})

// Response — итоговый ответ мутирующей операции.
type Response struct {
	Status int
	Body   []byte
	// Replayed — ответ взят из записи идемпотентности без повторного выполнения.
	Replayed bool
}

// Fingerprint возвращает SHA-256 (hex) JSON-представления запроса.
// Ключи map сериализуются в отсортированном порядке, поэтому отпечаток детерминирован.
func Fingerprint(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации запроса: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Claim захватывает пару (key, scope) в текущей транзакции.
func Claim(ctx context.Context, repo repository.IdempotencyRepository, key, scope, fingerprint string) (ClaimOutcome, *model.IdempotencyRecord, error) {
	inserted, err := repo.Insert(ctx, &model.IdempotencyRecord{Key: key, Scope: scope, Fingerprint: fingerprint})
	if err != nil {
		return "", nil, err
	}
	if inserted {
		return ClaimFresh, nil, nil
	}

	rec, err := repo.Get(ctx, key, scope)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка чтения записи идемпотентности: %w", err)
	}
	if rec.Fingerprint != fingerprint {
		return ClaimConflict, rec, nil
	}
	if rec.Done() {
		return ClaimReplay, rec, nil
	}

	// Зафиксированная pending-запись: её владелец завершился вне штатного пути.
	adopted, err := repo.AdoptPending(ctx, key, scope, fingerprint)
	if err != nil {
		return "", nil, err
	}
	if adopted {
		return ClaimFresh, rec, nil
	}
	rec, err = repo.Get(ctx, key, scope)
	if err != nil {
		return "", nil, fmt.Errorf("ошибка чтения записи идемпотентности: %w", err)
	}
	if rec.Done() {
		return ClaimReplay, rec, nil
	}
	return "", nil, ErrServiceUnavailable.WithMessage("операция с этим ключом ещё выполняется")
}

// operation — описание идемпотентной мутации.
type operation struct {
	Key         string
	Scope       string
	Fingerprint string
	// Run выполняет мутацию в транзакции и возвращает статус и тело ответа.
	Run func(ctx context.Context, r repository.Repositories) (int, any, error)
	// Replay — необязательная подмена сохранённого ответа при повторе.
	// nil-ответ означает «вернуть сохранённый ответ как есть».
	Replay func(ctx context.Context, r repository.Repositories, rec *model.IdempotencyRecord) (*Response, error)
}

// Executor выполняет мутации под записью идемпотентности.
type Executor struct {
	store  Store
	logger *slog.Logger
}

// NewExecutor создаёт исполнителя идемпотентных мутаций.
func NewExecutor(store Store, logger *slog.Logger) *Executor {
	return &Executor{
		store:  store,
		logger: logger.With(slog.String("component", "idempotency")),
	}
}

// requireKey отклоняет мутацию без ключа идемпотентности.
// Проверяется раньше прав и тела запроса.
func requireKey(key string) error {
	if key == "" {
		return ErrMissingIdempotencyKey
	}
	return nil
}

// Execute выполняет op в одной транзакции с записью идемпотентности.
//
// Доменная ошибка (4xx/502 со стабильным кодом) сохраняется как ответ
// со статусом failed и фиксируется вместе со строками, которые она создала.
// Гонки, нарушения ограничений и ошибки инфраструктуры откатывают
// транзакцию целиком и возвращаются как *Error.
func (x *Executor) Execute(ctx context.Context, op operation) (Response, error) {
	if err := requireKey(op.Key); err != nil {
		return Response{}, err
	}

	var resp Response
	err := x.store.RunInTx(ctx, func(r repository.Repositories) error {
		resp = Response{}

		outcome, rec, err := Claim(ctx, r.Idempotency, op.Key, op.Scope, op.Fingerprint)
		if err != nil {
			return err
		}
		idempotencyClaims.WithLabelValues(string(outcome)).Inc()

		switch outcome {
		case ClaimConflict:
			return ErrIdempotencyConflict
		case ClaimReplay:
			resp = Response{Status: rec.ResponseStatus, Body: rec.ResponseBody, Replayed: true}
			if op.Replay != nil {
				override, err := op.Replay(ctx, r, rec)
				if err != nil {
					return err
				}
				if override != nil {
					resp = *override
					resp.Replayed = true
				}
			}
			return nil
		}

		status, body, runErr := op.Run(ctx, r)
		recStatus := model.IdempotencyCompleted
		if runErr != nil {
			se := classify(runErr)
			if !se.Storable() {
				return runErr
			}
			resp = Response{Status: se.Status, Body: se.Body()}
			recStatus = model.IdempotencyFailed
		} else {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("ошибка сериализации ответа: %w", err)
			}
			resp = Response{Status: status, Body: data}
		}

		if err := r.Idempotency.Complete(ctx, op.Key, op.Scope, recStatus, resp.Status, resp.Body); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrServiceUnavailable.WithMessage("запись идемпотентности перехвачена другим запросом")
			}
			return err
		}
		return nil
	})
	if err != nil {
		se := classify(err)
		if se.Code == CodeServiceUnavailable || se.Code == CodeGatewayTimeout {
			x.logger.Error("Мутация откатилась",
				slog.String("scope", op.Scope),
				slog.String("code", se.Code),
				slog.String("error", err.Error()),
			)
		}
		return Response{}, se
	}

	x.logger.Debug("Мутация выполнена",
		slog.String("scope", op.Scope),
		slog.Int("status", resp.Status),
		slog.Bool("replayed", resp.Replayed),
	)
	return resp, nil
}

// scopeFor — пространство ключей идемпотентности для операции и инициатора.
func scopeFor(op string, actor Actor) string {
	return op + ":" + actor.Subject
}
