package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
)

// ExecutionStore - атомарная запись пары Trade + Order и исполнений ордера
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore создает новый экземпляр хранилища
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateTradeWithOrder вставляет сделку и ордер в одной транзакции.
// Ордер получает trade_id созданной сделки и статус pending.
func (s *ExecutionStore) CreateTradeWithOrder(ctx context.Context, trade *models.Trade, order *models.Order) error {
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		order.TradeID = &trade.ID
		if err := insertOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
	if err != nil {
		trade.ID = 0
		order.ID = 0
		order.TradeID = nil
	}
	return err
}

// ApplyOrderFill фиксирует новое состояние ордера вместе с его последствиями:
// смену статуса (CAS по order.Status), изменение позиции на positionQty
// и пересчёт агрегатов сделки. Ошибка любого шага откатывает все три,
// ордер остаётся в прежнем статусе и будет обработан повторно.
func (s *ExecutionStore) ApplyOrderFill(ctx context.Context, order *models.Order, fill models.OrderFill, positionQty int, positionPrice decimal.Decimal, at time.Time) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := applyOrderStatus(ctx, tx, order.ID, order.Status, fill, at); err != nil {
			return fmt.Errorf("apply order status: %w", err)
		}
		if positionQty != 0 {
			if err := applyPositionFill(ctx, tx, order, positionQty, positionPrice, at); err != nil {
				return fmt.Errorf("apply position fill: %w", err)
			}
		}
		if order.TradeID != nil && fill.FilledQuantity > order.FilledQuantity {
			if err := recalculateTradeFills(ctx, tx, *order.TradeID, at); err != nil {
				return fmt.Errorf("recalculate trade: %w", err)
			}
		}
		return nil
	})
}
