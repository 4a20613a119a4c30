// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories — набор репозиториев поверх одного DBTX.
// Внутри RunInTx все репозитории работают в одной транзакции.
type Repositories struct {
	Applications ApplicationRepository
	Documents    DocumentRepository
	Reviews      ReviewRepository
	Idempotency  IdempotencyRepository
	Lenders      LenderRepository
	Submissions  SubmissionRepository
	Audit        AuditRepository
	RoleGrants   RoleGrantRepository
}

// NewRepositories создаёт набор репозиториев поверх db.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Applications: NewApplicationRepository(db),
		Documents:    NewDocumentRepository(db),
		Reviews:      NewReviewRepository(db),
		Idempotency:  NewIdempotencyRepository(db),
		Lenders:      NewLenderRepository(db),
		Submissions:  NewSubmissionRepository(db),
		Audit:        NewAuditRepository(db),
		RoleGrants:   NewRoleGrantRepository(db),
	}
}

// Store — точка входа в хранилище: репозитории вне транзакции и RunInTx.
type Store struct {
	pool  *pgxpool.Pool
	repos Repositories
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, repos: NewRepositories(pool)}
}

// Repos возвращает репозитории, работающие вне транзакции.
func (s *Store) Repos() Repositories {
	return s.repos
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (s *Store) RunInTx(ctx context.Context, fn func(r Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// decimalArg готовит сумму к передаче в NUMERIC-параметр.
func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// parseDecimal разбирает NUMERIC, выбранный как text.
func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("некорректное значение NUMERIC %q: %w", *s, err)
	}
	return &d, nil
}
