package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

const positionColumns = `id, broker_account_id, strategy_run_id, symbol, exchange, product_type, quantity,
	average_price, last_price, unrealized_pnl, opened_at, updated_at`

// PositionRepository - работа с таблицей positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// CountOpen возвращает число позиций с ненулевым количеством на счёте
func (r *PositionRepository) CountOpen(ctx context.Context, brokerAccountID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE broker_account_id = $1 AND quantity <> 0`, brokerAccountID,
	).Scan(&n)
	return n, err
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id int) (*models.Position, error) {
	p, err := scanPosition(r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	return p, err
}

// ListOpen возвращает ненулевые позиции, опционально по запуску
func (r *PositionRepository) ListOpen(ctx context.Context, strategyRunID *int) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE quantity <> 0`
	var args []interface{}
	if strategyRunID != nil {
		query += ` AND strategy_run_id = $1`
		args = append(args, *strategyRunID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// applyPositionFill применяет исполнение к позиции (account, symbol, product).
// fillQty знаковый: покупка > 0, продажа < 0. Вызывается внутри транзакции.
func applyPositionFill(ctx context.Context, q querier, order *models.Order, fillQty int, fillPrice decimal.Decimal, now time.Time) error {
	var (
		id  int
		qty int
		avg decimal.Decimal
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, quantity, average_price FROM positions
		WHERE broker_account_id = $1 AND symbol = $2 AND product_type = $3
		FOR UPDATE`,
		order.BrokerAccountID, order.Symbol, order.ProductType,
	).Scan(&id, &qty, &avg)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		newQty, newAvg := utils.ApplyFill(0, decimal.Zero, fillQty, fillPrice)
		_, err = q.ExecContext(ctx, `
			INSERT INTO positions (broker_account_id, strategy_run_id, symbol, exchange, product_type, quantity,
				average_price, last_price, opened_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
			order.BrokerAccountID, order.StrategyRunID, order.Symbol, order.Exchange, order.ProductType,
			newQty, newAvg, fillPrice, now)
		return err
	case err != nil:
		return err
	}

	newQty, newAvg := utils.ApplyFill(qty, avg, fillQty, fillPrice)
	_, err = q.ExecContext(ctx, `
		UPDATE positions SET quantity = $1, average_price = $2, last_price = $3,
			strategy_run_id = COALESCE($4, strategy_run_id), updated_at = $5
		WHERE id = $6`,
		newQty, newAvg, fillPrice, order.StrategyRunID, now, id)
	return err
}

func scanPosition(s rowScanner) (*models.Position, error) {
	p := &models.Position{}
	if err := s.Scan(
		&p.ID,
		&p.BrokerAccountID,
		&p.StrategyRunID,
		&p.Symbol,
		&p.Exchange,
		&p.ProductType,
		&p.Quantity,
		&p.AveragePrice,
		&p.LastPrice,
		&p.UnrealizedPnl,
		&p.OpenedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return p, nil
}
