package handlers

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/internal/risk"
	"algopilot/internal/service"
	"algopilot/internal/strategy"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock BrokerAccountService ============

type MockBrokerService struct {
	accounts  map[int]*models.BrokerAccount
	createReq *service.CreateBrokerAccountRequest
	lastMode  models.TradingMode
	err       error
}

func NewMockBrokerService() *MockBrokerService {
	return &MockBrokerService{accounts: map[int]*models.BrokerAccount{
		1: {ID: 1, BrokerName: "dhan", AccountID: "1100001", APIKey: "enc-key", AccessToken: "enc-token", IsActive: true},
	}}
}

func (m *MockBrokerService) CreateAccount(_ context.Context, req service.CreateBrokerAccountRequest) (*models.BrokerAccount, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.createReq = &req
	a := &models.BrokerAccount{ID: 2, BrokerName: req.BrokerName, AccountID: req.AccountID, APIKey: "enc", IsActive: true}
	m.accounts[a.ID] = a
	return a, nil
}

func (m *MockBrokerService) GetAccount(_ context.Context, id int) (*models.BrokerAccount, error) {
	if a, ok := m.accounts[id]; ok {
		return a, nil
	}
	return nil, repository.ErrBrokerAccountNotFound
}

func (m *MockBrokerService) ListAccounts(_ context.Context) ([]*models.BrokerAccount, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []*models.BrokerAccount{m.accounts[1]}, nil
}

func (m *MockBrokerService) DeleteAccount(_ context.Context, id int) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[id]; !ok {
		return repository.ErrBrokerAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *MockBrokerService) Balance(_ context.Context, _ int, mode models.TradingMode) (*broker.Balance, error) {
	m.lastMode = mode
	return &broker.Balance{AvailableBalance: decimal.NewFromInt(1000)}, nil
}

// ============ Mock StrategyService ============

type MockStrategyService struct {
	runs      map[int]*models.StrategyRun
	runReq    *service.CreateRunRequest
	candles   []strategy.MarketData
	runErr    error
	candleErr error
}

func NewMockStrategyService() *MockStrategyService {
	return &MockStrategyService{runs: map[int]*models.StrategyRun{
		3: {ID: 3, StrategyID: 1, Status: models.RunStatusPending, TradingMode: models.TradingModePaper},
	}}
}

func (m *MockStrategyService) CreateStrategy(_ context.Context, req service.CreateStrategyRequest) (*models.Strategy, error) {
	if req.Name == "" {
		return nil, errors.Join(service.ErrValidation, errors.New("name: is required"))
	}
	return &models.Strategy{ID: 1, Name: req.Name, StrategyCode: req.StrategyCode, IsActive: true}, nil
}

func (m *MockStrategyService) GetStrategy(_ context.Context, id int) (*models.Strategy, error) {
	if id != 1 {
		return nil, repository.ErrStrategyNotFound
	}
	return &models.Strategy{ID: 1, Name: "sma", StrategyCode: strategy.SMACrossoverCode}, nil
}

func (m *MockStrategyService) ListStrategies(_ context.Context) ([]*models.Strategy, error) {
	return []*models.Strategy{{ID: 1, Name: "sma"}}, nil
}

func (m *MockStrategyService) Implementations() []string {
	return []string{strategy.SMACrossoverCode}
}

func (m *MockStrategyService) CreateRun(_ context.Context, strategyID int, req service.CreateRunRequest) (*models.StrategyRun, error) {
	m.runReq = &req
	status := models.RunStatusPending
	if req.Start {
		status = models.RunStatusRunning
	}
	return &models.StrategyRun{ID: 4, StrategyID: strategyID, Status: status}, nil
}

func (m *MockStrategyService) GetRun(_ context.Context, id int) (*models.StrategyRun, error) {
	if run, ok := m.runs[id]; ok {
		return run, nil
	}
	return nil, repository.ErrStrategyRunNotFound
}

func (m *MockStrategyService) ListRuns(_ context.Context, _ *int) ([]*models.StrategyRun, error) {
	return []*models.StrategyRun{m.runs[3]}, nil
}

func (m *MockStrategyService) StartRun(ctx context.Context, id int) (*models.StrategyRun, error) {
	if m.runErr != nil {
		return nil, m.runErr
	}
	run, err := m.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatusRunning
	return run, nil
}

func (m *MockStrategyService) StopRun(ctx context.Context, id int) (*models.StrategyRun, error) {
	if m.runErr != nil {
		return nil, m.runErr
	}
	run, err := m.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatusStopped
	return run, nil
}

func (m *MockStrategyService) SubmitCandle(_ context.Context, _ int, md strategy.MarketData) error {
	if m.candleErr != nil {
		return m.candleErr
	}
	m.candles = append(m.candles, md)
	return nil
}

// ============ Mock OrderService ============

type MockOrderService struct {
	lastFilter models.OrderFilter
	cancelErr  error
}

func (m *MockOrderService) ListOrders(_ context.Context, f models.OrderFilter) ([]*models.Order, error) {
	m.lastFilter = f
	return []*models.Order{{ID: 1, Symbol: "TCS", Status: models.OrderStatusOpen}}, nil
}

func (m *MockOrderService) GetOrder(_ context.Context, id int) (*models.Order, error) {
	if id != 1 {
		return nil, repository.ErrOrderNotFound
	}
	return &models.Order{ID: 1, Symbol: "TCS", Status: models.OrderStatusOpen}, nil
}

func (m *MockOrderService) CancelOrder(_ context.Context, id int) (*models.Order, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &models.Order{ID: id, Status: models.OrderStatusCancelled}, nil
}

// ============ Mock PortfolioService ============

type MockPortfolioService struct {
	tradeFilter models.TradeFilter
	pnlLimit    int
	pnlReq      *service.RecordPnlRequest
}

func (m *MockPortfolioService) ListTrades(_ context.Context, f models.TradeFilter) ([]*models.Trade, error) {
	m.tradeFilter = f
	return []*models.Trade{}, nil
}

func (m *MockPortfolioService) GetTrade(_ context.Context, _ int) (*models.Trade, error) {
	return nil, repository.ErrTradeNotFound
}

func (m *MockPortfolioService) ListPositions(_ context.Context, _ *int) ([]*models.Position, error) {
	return []*models.Position{{ID: 1, Symbol: "TCS", Quantity: 10}}, nil
}

func (m *MockPortfolioService) GetPosition(_ context.Context, id int) (*models.Position, error) {
	return &models.Position{ID: id, Symbol: "TCS", Quantity: 10}, nil
}

func (m *MockPortfolioService) ListPnl(_ context.Context, _ int, limit int) ([]*models.PnlSnapshot, error) {
	m.pnlLimit = limit
	return []*models.PnlSnapshot{}, nil
}

func (m *MockPortfolioService) RecordPnl(_ context.Context, runID int, req service.RecordPnlRequest) (*models.PnlSnapshot, error) {
	m.pnlReq = &req
	return &models.PnlSnapshot{
		ID:            1,
		StrategyRunID: runID,
		RealizedPnl:   req.RealizedPnl,
		UnrealizedPnl: req.UnrealizedPnl,
		TotalPnl:      req.RealizedPnl.Add(req.UnrealizedPnl),
	}, nil
}

// ============ Mock RiskService ============

type MockRiskService struct {
	lastFilter models.RiskEventFilter
	err        error
}

func (m *MockRiskService) ListEvents(_ context.Context, f models.RiskEventFilter) ([]*models.RiskEvent, error) {
	m.lastFilter = f
	if m.err != nil {
		return nil, m.err
	}
	return []*models.RiskEvent{{ID: 1, EventType: models.RiskMaxOpenPositions, WasBlocked: true}}, nil
}

func (m *MockRiskService) TodayStats(_ context.Context) (*models.RiskStats, error) {
	return &models.RiskStats{TodayTotal: 2, TodayBlocked: 2, ByType: map[models.RiskEventType]int{models.RiskMaxDailyLoss: 2}}, nil
}

func (m *MockRiskService) Limits() risk.Limits { return risk.DefaultLimits() }

func (m *MockRiskService) Rules() []string { return []string{"max_daily_loss"} }
