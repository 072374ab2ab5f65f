package service

import (
	"context"
	"time"

	"algopilot/internal/models"
	"algopilot/internal/strategy"
)

// BrokerAccountRepositoryInterface определяет интерфейс репозитория брокерских счетов
type BrokerAccountRepositoryInterface interface {
	Create(ctx context.Context, a *models.BrokerAccount) error
	GetByID(ctx context.Context, id int) (*models.BrokerAccount, error)
	List(ctx context.Context) ([]*models.BrokerAccount, error)
	Delete(ctx context.Context, id int) error
}

// StrategyRepositoryInterface определяет интерфейс репозитория стратегий
type StrategyRepositoryInterface interface {
	Create(ctx context.Context, s *models.Strategy) error
	GetByID(ctx context.Context, id int) (*models.Strategy, error)
	List(ctx context.Context) ([]*models.Strategy, error)
}

// StrategyRunRepositoryInterface определяет интерфейс репозитория запусков
type StrategyRunRepositoryInterface interface {
	Create(ctx context.Context, run *models.StrategyRun) error
	GetByID(ctx context.Context, id int) (*models.StrategyRun, error)
	List(ctx context.Context, strategyID *int) ([]*models.StrategyRun, error)
}

// OrderRepositoryInterface определяет интерфейс чтения ордеров
type OrderRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*models.Order, error)
	List(ctx context.Context, f models.OrderFilter) ([]*models.Order, error)
}

// TradeRepositoryInterface определяет интерфейс чтения сделок
type TradeRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*models.Trade, error)
	List(ctx context.Context, f models.TradeFilter) ([]*models.Trade, error)
}

// PositionRepositoryInterface определяет интерфейс чтения позиций
type PositionRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*models.Position, error)
	ListOpen(ctx context.Context, strategyRunID *int) ([]*models.Position, error)
}

// PnlRepositoryInterface определяет интерфейс журнала P&L
type PnlRepositoryInterface interface {
	Create(ctx context.Context, s *models.PnlSnapshot) error
	List(ctx context.Context, strategyRunID, limit int) ([]*models.PnlSnapshot, error)
}

// RiskEventRepositoryInterface определяет интерфейс журнала риск-событий
type RiskEventRepositoryInterface interface {
	List(ctx context.Context, f models.RiskEventFilter) ([]*models.RiskEvent, error)
	StatsSince(ctx context.Context, since time.Time) (*models.RiskStats, error)
}

// RunSupervisor - управление исполнением запусков (engine.Supervisor)
type RunSupervisor interface {
	Start(ctx context.Context, runID int) error
	Stop(ctx context.Context, runID int) error
	IsTracked(runID int) bool
	ProcessCandleClose(runID int, md strategy.MarketData) error
}

// OrderCanceller - отмена ордера у брокера (engine.OrderSyncer)
type OrderCanceller interface {
	CancelOrder(ctx context.Context, orderID int) (*models.Order, error)
}
