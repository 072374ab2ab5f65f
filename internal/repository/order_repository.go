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

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderStatusConflict    = errors.New("order is not in the expected status")
	ErrDuplicateBrokerOrderID = errors.New("broker order id already assigned")
)

const orderColumns = `id, broker_account_id, strategy_run_id, trade_id, broker_order_id, symbol, exchange, order_type,
	product_type, transaction_type, quantity, price, trigger_price, status, filled_quantity, average_price,
	broker_response, error_message, submitted_at, filled_at, cancelled_at, created_at, updated_at`

// OrderRepository - работа с таблицей orders.
// Поля идентичности ордера (symbol, side, quantity...) после вставки не обновляются.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func insertOrder(ctx context.Context, q querier, o *models.Order) error {
	now := time.Now()
	o.Status = models.OrderStatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	return q.QueryRowContext(ctx, `
		INSERT INTO orders (broker_account_id, strategy_run_id, trade_id, symbol, exchange, order_type, product_type,
			transaction_type, quantity, price, trigger_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		o.BrokerAccountID, o.StrategyRunID, o.TradeID, o.Symbol, o.Exchange, o.OrderType, o.ProductType,
		o.Side, o.Quantity, o.Price, o.TriggerPrice, o.Status, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(ctx context.Context, id int) (*models.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// List возвращает ордера по фильтру, новые первыми (по умолчанию 100)
func (r *OrderRepository) List(ctx context.Context, f models.OrderFilter) ([]*models.Order, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.StrategyRunID != nil {
		args = append(args, *f.StrategyRunID)
		conds = append(conds, fmt.Sprintf("strategy_run_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, normalizeLimit(f.Limit, 100, 1000))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	return r.query(ctx, query, args...)
}

// ListActive возвращает отправленные брокеру и ещё не завершённые ордера
func (r *OrderRepository) ListActive(ctx context.Context, limit int) ([]*models.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status IN ($1, $2, $3) AND broker_order_id IS NOT NULL
		ORDER BY submitted_at LIMIT $4`,
		models.OrderStatusSubmitted, models.OrderStatusOpen, models.OrderStatusPartiallyFilled,
		normalizeLimit(limit, 200, 1000))
}

// MarkSubmitted фиксирует успешную отправку pending-ордера
func (r *OrderRepository) MarkSubmitted(ctx context.Context, id int, brokerOrderID string, response models.JSONMap, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET broker_order_id = $1, status = $2, submitted_at = $3, broker_response = $4, updated_at = $3
		WHERE id = $5 AND status = $6`,
		brokerOrderID, models.OrderStatusSubmitted, at, response, id, models.OrderStatusPending)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateBrokerOrderID
		}
		return err
	}
	return rowsAffected(result, ErrOrderStatusConflict)
}

// MarkRejected переводит pending-ордер в rejected с текстом ошибки
func (r *OrderRepository) MarkRejected(ctx context.Context, id int, message string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		models.OrderStatusRejected, message, at, id, models.OrderStatusPending)
	if err != nil {
		return err
	}
	return rowsAffected(result, ErrOrderStatusConflict)
}

// ApplyStatus записывает статус и исполнение, полученные от брокера.
// from - ожидаемый текущий статус (защита от гонки двух синхронизаций).
func (r *OrderRepository) ApplyStatus(ctx context.Context, id int, from models.OrderStatus, fill models.OrderFill, at time.Time) error {
	return applyOrderStatus(ctx, r.db, id, from, fill, at)
}

func applyOrderStatus(ctx context.Context, q querier, id int, from models.OrderStatus, fill models.OrderFill, at time.Time) error {
	var filledAt, cancelledAt *time.Time
	switch fill.Status {
	case models.OrderStatusFilled:
		filledAt = &at
	case models.OrderStatusCancelled:
		cancelledAt = &at
	}

	result, err := q.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			filled_quantity = $2,
			average_price = COALESCE($3, average_price),
			filled_at = COALESCE($4, filled_at),
			cancelled_at = COALESCE($5, cancelled_at),
			error_message = CASE WHEN $6 = '' THEN error_message ELSE $6 END,
			updated_at = $7
		WHERE id = $8 AND status = $9`,
		fill.Status, fill.FilledQuantity, fill.AveragePrice, filledAt, cancelledAt, fill.Message, at, id, from)
	if err != nil {
		return err
	}
	return rowsAffected(result, ErrOrderStatusConflict)
}

func (r *OrderRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(s rowScanner) (*models.Order, error) {
	o := &models.Order{}
	if err := s.Scan(
		&o.ID,
		&o.BrokerAccountID,
		&o.StrategyRunID,
		&o.TradeID,
		&o.BrokerOrderID,
		&o.Symbol,
		&o.Exchange,
		&o.OrderType,
		&o.ProductType,
		&o.Side,
		&o.Quantity,
		&o.Price,
		&o.TriggerPrice,
		&o.Status,
		&o.FilledQuantity,
		&o.AveragePrice,
		&o.BrokerResponse,
		&o.ErrorMessage,
		&o.SubmittedAt,
		&o.FilledAt,
		&o.CancelledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return o, nil
}
