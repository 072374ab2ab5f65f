package handlers

import (
	"context"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/risk"
	"algopilot/internal/service"
	"algopilot/internal/strategy"
)

// BrokerAccountService - операции с брокерскими счетами (service.BrokerService)
type BrokerAccountService interface {
	CreateAccount(ctx context.Context, req service.CreateBrokerAccountRequest) (*models.BrokerAccount, error)
	GetAccount(ctx context.Context, id int) (*models.BrokerAccount, error)
	ListAccounts(ctx context.Context) ([]*models.BrokerAccount, error)
	DeleteAccount(ctx context.Context, id int) error
	Balance(ctx context.Context, id int, mode models.TradingMode) (*broker.Balance, error)
}

// StrategyService - стратегии и запуски (service.StrategyService)
type StrategyService interface {
	CreateStrategy(ctx context.Context, req service.CreateStrategyRequest) (*models.Strategy, error)
	GetStrategy(ctx context.Context, id int) (*models.Strategy, error)
	ListStrategies(ctx context.Context) ([]*models.Strategy, error)
	Implementations() []string
	CreateRun(ctx context.Context, strategyID int, req service.CreateRunRequest) (*models.StrategyRun, error)
	GetRun(ctx context.Context, id int) (*models.StrategyRun, error)
	ListRuns(ctx context.Context, strategyID *int) ([]*models.StrategyRun, error)
	StartRun(ctx context.Context, id int) (*models.StrategyRun, error)
	StopRun(ctx context.Context, id int) (*models.StrategyRun, error)
	SubmitCandle(ctx context.Context, id int, md strategy.MarketData) error
}

// OrderService - ордера (service.OrderService)
type OrderService interface {
	ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.Order, error)
	GetOrder(ctx context.Context, id int) (*models.Order, error)
	CancelOrder(ctx context.Context, id int) (*models.Order, error)
}

// PortfolioService - сделки, позиции, P&L (service.PortfolioService)
type PortfolioService interface {
	ListTrades(ctx context.Context, f models.TradeFilter) ([]*models.Trade, error)
	GetTrade(ctx context.Context, id int) (*models.Trade, error)
	ListPositions(ctx context.Context, strategyRunID *int) ([]*models.Position, error)
	GetPosition(ctx context.Context, id int) (*models.Position, error)
	ListPnl(ctx context.Context, strategyRunID, limit int) ([]*models.PnlSnapshot, error)
	RecordPnl(ctx context.Context, strategyRunID int, req service.RecordPnlRequest) (*models.PnlSnapshot, error)
}

// RiskService - журнал риск-событий (service.RiskService)
type RiskService interface {
	ListEvents(ctx context.Context, f models.RiskEventFilter) ([]*models.RiskEvent, error)
	TodayStats(ctx context.Context) (*models.RiskStats, error)
	Limits() risk.Limits
	Rules() []string
}

var (
	_ BrokerAccountService = (*service.BrokerService)(nil)
	_ StrategyService      = (*service.StrategyService)(nil)
	_ OrderService         = (*service.OrderService)(nil)
	_ PortfolioService     = (*service.PortfolioService)(nil)
	_ RiskService          = (*service.RiskService)(nil)
)
