package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"algopilot/internal/models"
)

// Ошибки репозитория брокерских счетов
var (
	ErrBrokerAccountNotFound = errors.New("broker account not found")
	ErrBrokerAccountInUse    = errors.New("broker account has orders and cannot be deleted")
)

const brokerAccountColumns = `id, broker_name, account_id, api_key, api_secret, access_token, is_active, is_default, created_at, updated_at`

// BrokerAccountRepository - работа с таблицей broker_accounts
type BrokerAccountRepository struct {
	db *sql.DB
}

// NewBrokerAccountRepository создает новый экземпляр репозитория
func NewBrokerAccountRepository(db *sql.DB) *BrokerAccountRepository {
	return &BrokerAccountRepository{db: db}
}

// Create сохраняет счёт. Если счёт помечен по умолчанию, флаг снимается с остальных в той же транзакции.
func (r *BrokerAccountRepository) Create(ctx context.Context, a *models.BrokerAccount) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if a.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE broker_accounts SET is_default = FALSE, updated_at = $1 WHERE is_default = TRUE`, now); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO broker_accounts (broker_name, account_id, api_key, api_secret, access_token, is_active, is_default, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			a.BrokerName, a.AccountID, a.APIKey, a.APISecret, a.AccessToken,
			a.IsActive, a.IsDefault, a.CreatedAt, a.UpdatedAt,
		).Scan(&a.ID)
	})
}

// GetByID возвращает счёт по ID
func (r *BrokerAccountRepository) GetByID(ctx context.Context, id int) (*models.BrokerAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+brokerAccountColumns+` FROM broker_accounts WHERE id = $1`, id)
	a, err := scanBrokerAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBrokerAccountNotFound
	}
	return a, err
}

// List возвращает все счета
func (r *BrokerAccountRepository) List(ctx context.Context) ([]*models.BrokerAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+brokerAccountColumns+` FROM broker_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.BrokerAccount
	for rows.Next() {
		a, err := scanBrokerAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Delete удаляет счёт. Счёт с ордерами удалить нельзя (ON DELETE RESTRICT).
func (r *BrokerAccountRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM broker_accounts WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrBrokerAccountInUse
		}
		return err
	}
	return rowsAffected(result, ErrBrokerAccountNotFound)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBrokerAccount(s rowScanner) (*models.BrokerAccount, error) {
	a := &models.BrokerAccount{}
	err := s.Scan(
		&a.ID,
		&a.BrokerName,
		&a.AccountID,
		&a.APIKey,
		&a.APISecret,
		&a.AccessToken,
		&a.IsActive,
		&a.IsDefault,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
