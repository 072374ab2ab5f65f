package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"algopilot/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

const tradeColumns = `id, strategy_run_id, symbol, exchange, transaction_type, quantity, intended_price, product_type,
	is_completed, total_filled_quantity, average_execution_price, created_at, completed_at, updated_at`

// TradeRepository - работа с таблицей trades
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func insertTrade(ctx context.Context, q querier, t *models.Trade) error {
	now := time.Now()
	t.IsCompleted = false
	t.TotalFilledQuantity = 0
	t.CreatedAt = now
	t.UpdatedAt = now

	return q.QueryRowContext(ctx, `
		INSERT INTO trades (strategy_run_id, symbol, exchange, transaction_type, quantity, intended_price, product_type,
			is_completed, total_filled_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		t.StrategyRunID, t.Symbol, t.Exchange, t.Side, t.Quantity, t.IntendedPrice, t.ProductType,
		t.IsCompleted, t.TotalFilledQuantity, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
}

// GetByID возвращает сделку по ID
func (r *TradeRepository) GetByID(ctx context.Context, id int) (*models.Trade, error) {
	t, err := scanTrade(r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	return t, err
}

// List возвращает сделки по фильтру, новые первыми
func (r *TradeRepository) List(ctx context.Context, f models.TradeFilter) ([]*models.Trade, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.StrategyRunID != nil {
		args = append(args, *f.StrategyRunID)
		conds = append(conds, fmt.Sprintf("strategy_run_id = $%d", len(args)))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if f.IsCompleted != nil {
		args = append(args, *f.IsCompleted)
		conds = append(conds, fmt.Sprintf("is_completed = $%d", len(args)))
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, normalizeLimit(f.Limit, 100, 1000))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// recalculateTradeFills пересчитывает агрегаты сделки по всем её ордерам
func recalculateTradeFills(ctx context.Context, q querier, tradeID int, at time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE trades t SET
			total_filled_quantity = agg.filled,
			average_execution_price = agg.avg_price,
			is_completed = agg.filled >= t.quantity,
			completed_at = CASE WHEN agg.filled >= t.quantity THEN COALESCE(t.completed_at, $2) ELSE NULL END,
			updated_at = $2
		FROM (
			SELECT COALESCE(SUM(filled_quantity), 0) AS filled,
				SUM(filled_quantity * average_price) / NULLIF(SUM(filled_quantity), 0) AS avg_price
			FROM orders WHERE trade_id = $1 AND filled_quantity > 0
		) agg
		WHERE t.id = $1`, tradeID, at)
	if err != nil {
		return err
	}
	return rowsAffected(result, ErrTradeNotFound)
}

func scanTrade(s rowScanner) (*models.Trade, error) {
	t := &models.Trade{}
	if err := s.Scan(
		&t.ID,
		&t.StrategyRunID,
		&t.Symbol,
		&t.Exchange,
		&t.Side,
		&t.Quantity,
		&t.IntendedPrice,
		&t.ProductType,
		&t.IsCompleted,
		&t.TotalFilledQuantity,
		&t.AverageExecutionPrice,
		&t.CreatedAt,
		&t.CompletedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return t, nil
}
