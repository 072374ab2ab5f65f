package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/risk"
	"algopilot/internal/strategy"
)

// ============================================================
// Зависимости исполнительного ядра
// ============================================================
//
// Ядро не знает о базе данных и транспорте: репозитории, брокерские
// адаптеры и WebSocket hub передаются через интерфейсы ниже.

// RiskValidator - проверка намерения риск-движком
type RiskValidator interface {
	Validate(ctx context.Context, req risk.Request, strategyRunID, brokerAccountID *int) (risk.Result, error)
}

// ExecutionStore атомарно сохраняет сделку с первым ордером
type ExecutionStore interface {
	CreateTradeWithOrder(ctx context.Context, trade *models.Trade, order *models.Order) error
}

// OrderStore - операции над ордерами, нужные ядру
type OrderStore interface {
	GetByID(ctx context.Context, id int) (*models.Order, error)
	MarkSubmitted(ctx context.Context, id int, brokerOrderID string, response models.JSONMap, at time.Time) error
	MarkRejected(ctx context.Context, id int, message string, at time.Time) error
	ListActive(ctx context.Context, limit int) ([]*models.Order, error)
	ApplyStatus(ctx context.Context, id int, from models.OrderStatus, fill models.OrderFill, at time.Time) error
}

// FillStore фиксирует изменение ордера вместе с позицией и агрегатами сделки
// одной транзакцией. positionQty знаковый, 0 - позиция не меняется.
// Конфликт статуса возвращается как repository.ErrOrderStatusConflict.
type FillStore interface {
	ApplyOrderFill(ctx context.Context, order *models.Order, fill models.OrderFill, positionQty int, positionPrice decimal.Decimal, at time.Time) error
}

// RunStore - переходы статуса запуска
type RunStore interface {
	GetByID(ctx context.Context, id int) (*models.StrategyRun, error)
	List(ctx context.Context, strategyID *int) ([]*models.StrategyRun, error)
	MarkRunning(ctx context.Context, id int, at time.Time) error
	MarkStopped(ctx context.Context, id int, at time.Time) error
	MarkError(ctx context.Context, id int, message string, at time.Time) error
}

// StrategyStore читает описания стратегий
type StrategyStore interface {
	GetByID(ctx context.Context, id int) (*models.Strategy, error)
}

// AdapterProvider выдаёт брокерский адаптер для счёта и режима торговли.
// Для paper возвращается симулятор, для live - адаптер реального брокера.
type AdapterProvider interface {
	AdapterFor(ctx context.Context, brokerAccountID int, mode models.TradingMode) (broker.Adapter, error)
}

// PriceObserver получает цены закрытия свечей (бумажная торговля)
type PriceObserver interface {
	ObservePrice(symbol string, price decimal.Decimal)
}

// IntentProcessor обрабатывает одно торговое намерение
type IntentProcessor interface {
	Process(ctx context.Context, run *models.StrategyRun, intent strategy.TradeIntent) (*ProcessResult, error)
}

// Notifier рассылает события клиентам.
// Вызовы не должны блокировать: hub сам отбрасывает сообщения медленным клиентам.
type Notifier interface {
	// BroadcastOrderUpdate - создание ордера и каждое изменение его статуса
	BroadcastOrderUpdate(order *models.Order)

	// BroadcastRunUpdate - смена статуса запуска
	BroadcastRunUpdate(runID int, status models.RunStatus, message string)

	// BroadcastRiskEvent - намерение заблокировано риск-движком
	BroadcastRiskEvent(event *models.RiskEvent)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastOrderUpdate(*models.Order)               {}
func (nopNotifier) BroadcastRunUpdate(int, models.RunStatus, string) {}
func (nopNotifier) BroadcastRiskEvent(*models.RiskEvent)             {}

var _ Notifier = nopNotifier{}
