package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// querier - общий интерфейс *sql.DB и *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)

// Коды ошибок PostgreSQL
const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isForeignKeyViolation(err error) bool { return pqCode(err) == pqForeignKeyViolation }
func isUniqueViolation(err error) bool     { return pqCode(err) == pqUniqueViolation }

// withTx выполняет fn в транзакции: commit при nil, rollback при ошибке
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rowsAffected возвращает notFound, если UPDATE/DELETE ничего не затронул
func rowsAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// normalizeLimit ограничивает размер выборки
func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
