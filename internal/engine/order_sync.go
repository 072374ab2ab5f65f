package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/pkg/utils"
)

var ErrOrderNotCancellable = errors.New("order cannot be cancelled")

// OrderSyncConfig - параметры опроса брокера
type OrderSyncConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultOrderSyncConfig возвращает параметры по умолчанию
func DefaultOrderSyncConfig() OrderSyncConfig {
	return OrderSyncConfig{Interval: 5 * time.Second, BatchSize: 200}
}

// OrderSyncer сверяет активные ордера с брокером.
//
// Для каждого ордера в submitted/open/partially_filled:
// 1. Запрос статуса у брокера
// 2. Проверка допустимости перехода
// 3. Запись статуса с защитой от гонки (from = текущий статус),
// позиции и агрегатов сделки одной транзакцией
type OrderSyncer struct {
	orders   OrderStore
	fills    FillStore
	runs     RunStore
	adapters AdapterProvider
	notifier Notifier
	logger   *zap.Logger
	cfg      OrderSyncConfig
	now      func() time.Time
}

// NewOrderSyncer создаёт синхронизатор ордеров
func NewOrderSyncer(
	orders OrderStore,
	fills FillStore,
	runs RunStore,
	adapters AdapterProvider,
	notifier Notifier,
	logger *zap.Logger,
	cfg OrderSyncConfig,
) *OrderSyncer {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOrderSyncConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &OrderSyncer{
		orders:   orders,
		fills:    fills,
		runs:     runs,
		adapters: adapters,
		notifier: notifier,
		logger:   logger.With(utils.Component("order_sync")),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run опрашивает брокера до отмены ctx
func (s *OrderSyncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("order sync pass failed", zap.Error(err))
			}
		}
	}
}

// SyncOnce выполняет один проход и возвращает число обновлённых ордеров.
// Сбой по одному ордеру логируется и не останавливает проход.
func (s *OrderSyncer) SyncOnce(ctx context.Context) (int, error) {
	orders, err := s.orders.ListActive(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list active orders: %w", err)
	}

	modes := make(map[int]models.TradingMode)
	updated := 0
	for _, o := range orders {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		mode, err := s.modeFor(ctx, o, modes)
		if err != nil {
			s.logger.Warn("cannot resolve trading mode", utils.OrderID(o.ID), zap.Error(err))
			continue
		}
		changed, err := s.syncOrder(ctx, o, mode)
		if err != nil {
			s.logger.Warn("order sync failed", utils.OrderID(o.ID), zap.Error(err))
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

// modeFor определяет режим по запуску; ордер без запуска считается live
func (s *OrderSyncer) modeFor(ctx context.Context, o *models.Order, cache map[int]models.TradingMode) (models.TradingMode, error) {
	if o.StrategyRunID == nil {
		return models.TradingModeLive, nil
	}
	if mode, ok := cache[*o.StrategyRunID]; ok {
		return mode, nil
	}
	run, err := s.runs.GetByID(ctx, *o.StrategyRunID)
	if err != nil {
		return "", err
	}
	cache[run.ID] = run.TradingMode
	return run.TradingMode, nil
}

func (s *OrderSyncer) syncOrder(ctx context.Context, o *models.Order, mode models.TradingMode) (bool, error) {
	if o.BrokerOrderID == nil {
		return false, nil
	}
	adapter, err := s.adapters.AdapterFor(ctx, o.BrokerAccountID, mode)
	if err != nil {
		return false, fmt.Errorf("resolve adapter: %w", err)
	}
	rec, err := adapter.GetOrderStatus(ctx, *o.BrokerOrderID)
	if err != nil {
		return false, fmt.Errorf("get order status: %w", err)
	}

	if rec.Status == o.Status && rec.FilledQuantity == o.FilledQuantity {
		return false, nil
	}

	log := s.logger.With(
		utils.OrderID(o.ID),
		utils.BrokerOrderID(*o.BrokerOrderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(rec.Status)))

	if rec.Status != o.Status && !CanTransitionOrder(o.Status, rec.Status) {
		log.Warn("broker reported status with no valid transition")
		return false, nil
	}

	filled := rec.FilledQuantity
	if filled < o.FilledQuantity {
		log.Warn("broker reported decreased fill quantity",
			zap.Int("stored", o.FilledQuantity),
			zap.Int("reported", filled))
		filled = o.FilledQuantity
	}
	if filled > o.Quantity {
		filled = o.Quantity
	}
	delta := filled - o.FilledQuantity

	avg := rec.AveragePrice
	if !avg.Valid {
		avg = o.AveragePrice
	}

	var (
		positionQty   int
		positionPrice decimal.Decimal
	)
	if delta > 0 && avg.Valid {
		positionPrice = deltaFillPrice(o.FilledQuantity, o.AveragePrice, filled, avg.Decimal)
		positionQty = utils.SignedQuantity(string(o.Side), delta)
	}

	// При ошибке ничего не записано: ордер остаётся активным и будет
	// сверён повторно на следующем проходе
	now := s.now()
	err = s.fills.ApplyOrderFill(ctx, o, models.OrderFill{
		Status:         rec.Status,
		FilledQuantity: filled,
		AveragePrice:   avg,
		Message:        rec.Message,
	}, positionQty, positionPrice, now)
	if errors.Is(err, repository.ErrOrderStatusConflict) {
		// статус уже изменён другим проходом или отменой
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("apply order fill: %w", err)
	}

	prev := o.Status
	o.Status = rec.Status
	o.FilledQuantity = filled
	o.AveragePrice = avg
	o.UpdatedAt = now
	if rec.Message != "" {
		o.ErrorMessage = rec.Message
	}
	switch rec.Status {
	case models.OrderStatusFilled:
		o.FilledAt = &now
	case models.OrderStatusCancelled:
		o.CancelledAt = &now
	}

	RecordOrderSync(string(rec.Status))
	log.Info("order status updated",
		zap.String("previous", string(prev)),
		zap.Int("filled_quantity", filled))
	s.notifier.BroadcastOrderUpdate(o)
	return true, nil
}

// deltaFillPrice выводит цену прироста исполнения из средних цен до и после.
// (newAvg*newQty - oldAvg*oldQty) / (newQty - oldQty)
func deltaFillPrice(oldQty int, oldAvg decimal.NullDecimal, newQty int, newAvg decimal.Decimal) decimal.Decimal {
	if oldQty <= 0 || !oldAvg.Valid || newQty <= oldQty {
		return newAvg
	}
	total := newAvg.Mul(decimal.NewFromInt(int64(newQty)))
	prior := oldAvg.Decimal.Mul(decimal.NewFromInt(int64(oldQty)))
	price := total.Sub(prior).Div(decimal.NewFromInt(int64(newQty - oldQty)))
	if !price.IsPositive() {
		return newAvg
	}
	return price
}

// CancelOrder отменяет ордер у брокера и фиксирует cancelled.
// Ордер без broker_order_id (ещё не отправлен) и конечные ордера не отменяются.
func (s *OrderSyncer) CancelOrder(ctx context.Context, orderID int) (*models.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, o.Status)
	}
	if o.BrokerOrderID == nil {
		return nil, fmt.Errorf("%w: order not yet submitted", ErrOrderNotCancellable)
	}

	mode, err := s.modeFor(ctx, o, make(map[int]models.TradingMode))
	if err != nil {
		return nil, fmt.Errorf("resolve trading mode: %w", err)
	}
	adapter, err := s.adapters.AdapterFor(ctx, o.BrokerAccountID, mode)
	if err != nil {
		return nil, fmt.Errorf("resolve adapter: %w", err)
	}
	ok, err := adapter.CancelOrder(ctx, *o.BrokerOrderID)
	if err != nil {
		return nil, fmt.Errorf("cancel at broker: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: broker refused cancellation", ErrOrderNotCancellable)
	}

	now := s.now()
	err = s.orders.ApplyStatus(ctx, o.ID, o.Status, models.OrderFill{
		Status:         models.OrderStatusCancelled,
		FilledQuantity: o.FilledQuantity,
		AveragePrice:   o.AveragePrice,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("mark order cancelled: %w", err)
	}

	o.Status = models.OrderStatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	s.logger.Info("order cancelled", utils.OrderID(o.ID), utils.BrokerOrderID(*o.BrokerOrderID))
	s.notifier.BroadcastOrderUpdate(o)
	return o, nil
}
