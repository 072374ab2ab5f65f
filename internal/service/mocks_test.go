package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/internal/strategy"
)

// ============ Mock BrokerAccountRepository ============

type MockBrokerAccountRepository struct {
	accounts  map[int]*models.BrokerAccount
	createErr error
	deleteErr error
	nextID    int
}

func NewMockBrokerAccountRepository() *MockBrokerAccountRepository {
	return &MockBrokerAccountRepository{accounts: make(map[int]*models.BrokerAccount), nextID: 1}
}

func (m *MockBrokerAccountRepository) Create(_ context.Context, a *models.BrokerAccount) error {
	if m.createErr != nil {
		return m.createErr
	}
	a.ID = m.nextID
	m.nextID++
	a.CreatedAt = time.Now()
	if a.IsDefault {
		for _, other := range m.accounts {
			other.IsDefault = false
		}
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *MockBrokerAccountRepository) GetByID(_ context.Context, id int) (*models.BrokerAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrBrokerAccountNotFound
	}
	return a, nil
}

func (m *MockBrokerAccountRepository) List(_ context.Context) ([]*models.BrokerAccount, error) {
	result := make([]*models.BrokerAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockBrokerAccountRepository) Delete(_ context.Context, id int) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.accounts[id]; !ok {
		return repository.ErrBrokerAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

// ============ Mock StrategyRepository ============

type MockStrategyRepository struct {
	strategies map[int]*models.Strategy
	nextID     int
}

func NewMockStrategyRepository() *MockStrategyRepository {
	return &MockStrategyRepository{strategies: make(map[int]*models.Strategy), nextID: 1}
}

func (m *MockStrategyRepository) Create(_ context.Context, s *models.Strategy) error {
	for _, existing := range m.strategies {
		if existing.Name == s.Name {
			return repository.ErrStrategyExists
		}
	}
	s.ID = m.nextID
	m.nextID++
	m.strategies[s.ID] = s
	return nil
}

func (m *MockStrategyRepository) GetByID(_ context.Context, id int) (*models.Strategy, error) {
	s, ok := m.strategies[id]
	if !ok {
		return nil, repository.ErrStrategyNotFound
	}
	return s, nil
}

func (m *MockStrategyRepository) List(_ context.Context) ([]*models.Strategy, error) {
	result := make([]*models.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ============ Mock StrategyRunRepository ============

type MockStrategyRunRepository struct {
	runs   map[int]*models.StrategyRun
	nextID int
}

func NewMockStrategyRunRepository() *MockStrategyRunRepository {
	return &MockStrategyRunRepository{runs: make(map[int]*models.StrategyRun), nextID: 1}
}

func (m *MockStrategyRunRepository) Create(_ context.Context, run *models.StrategyRun) error {
	run.ID = m.nextID
	m.nextID++
	run.Status = models.RunStatusPending
	m.runs[run.ID] = run
	return nil
}

func (m *MockStrategyRunRepository) GetByID(_ context.Context, id int) (*models.StrategyRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrStrategyRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MockStrategyRunRepository) List(_ context.Context, strategyID *int) ([]*models.StrategyRun, error) {
	var result []*models.StrategyRun
	for _, run := range m.runs {
		if strategyID != nil && run.StrategyID != *strategyID {
			continue
		}
		result = append(result, run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ============ Mock Supervisor ============

type MockSupervisor struct {
	mu       sync.Mutex
	runs     *MockStrategyRunRepository
	startErr error
	started  []int
	stopped  []int
	candles  []strategy.MarketData
}

func (m *MockSupervisor) Start(_ context.Context, runID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, runID)
	if run, ok := m.runs.runs[runID]; ok {
		run.Status = models.RunStatusRunning
	}
	return nil
}

func (m *MockSupervisor) Stop(_ context.Context, runID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, runID)
	if run, ok := m.runs.runs[runID]; ok {
		run.Status = models.RunStatusStopped
	}
	return nil
}

func (m *MockSupervisor) IsTracked(runID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.started {
		if id == runID {
			return true
		}
	}
	return false
}

func (m *MockSupervisor) ProcessCandleClose(_ int, md strategy.MarketData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, md)
	return nil
}

// ============ Mock Order/Trade/Position/Pnl/RiskEvent ============

type MockOrderRepository struct {
	orders     map[int]*models.Order
	lastFilter models.OrderFilter
}

func (m *MockOrderRepository) GetByID(_ context.Context, id int) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockOrderRepository) List(_ context.Context, f models.OrderFilter) ([]*models.Order, error) {
	m.lastFilter = f
	var result []*models.Order
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		result = append(result, o)
	}
	return result, nil
}

type MockOrderCanceller struct {
	cancelled []int
	err       error
}

func (m *MockOrderCanceller) CancelOrder(_ context.Context, orderID int) (*models.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.cancelled = append(m.cancelled, orderID)
	return &models.Order{ID: orderID, Status: models.OrderStatusCancelled}, nil
}

type MockTradeRepository struct {
	trades     map[int]*models.Trade
	lastFilter models.TradeFilter
}

func (m *MockTradeRepository) GetByID(_ context.Context, id int) (*models.Trade, error) {
	t, ok := m.trades[id]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	return t, nil
}

func (m *MockTradeRepository) List(_ context.Context, f models.TradeFilter) ([]*models.Trade, error) {
	m.lastFilter = f
	var result []*models.Trade
	for _, t := range m.trades {
		result = append(result, t)
	}
	return result, nil
}

type MockPositionRepository struct {
	positions []*models.Position
	lastRunID *int
}

func (m *MockPositionRepository) GetByID(_ context.Context, id int) (*models.Position, error) {
	for _, p := range m.positions {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrPositionNotFound
}

func (m *MockPositionRepository) ListOpen(_ context.Context, strategyRunID *int) ([]*models.Position, error) {
	m.lastRunID = strategyRunID
	return m.positions, nil
}

type MockPnlRepository struct {
	snapshots []*models.PnlSnapshot
	lastLimit int
}

func (m *MockPnlRepository) Create(_ context.Context, s *models.PnlSnapshot) error {
	s.ID = len(m.snapshots) + 1
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *MockPnlRepository) List(_ context.Context, strategyRunID, limit int) ([]*models.PnlSnapshot, error) {
	m.lastLimit = limit
	var result []*models.PnlSnapshot
	for _, s := range m.snapshots {
		if s.StrategyRunID == strategyRunID {
			result = append(result, s)
		}
	}
	return result, nil
}

type MockRiskEventRepository struct {
	events    []*models.RiskEvent
	lastSince time.Time
}

func (m *MockRiskEventRepository) List(_ context.Context, _ models.RiskEventFilter) ([]*models.RiskEvent, error) {
	return m.events, nil
}

func (m *MockRiskEventRepository) StatsSince(_ context.Context, since time.Time) (*models.RiskStats, error) {
	m.lastSince = since
	stats := &models.RiskStats{ByType: make(map[models.RiskEventType]int)}
	for _, e := range m.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.TodayTotal++
		if e.WasBlocked {
			stats.TodayBlocked++
		}
		stats.ByType[e.EventType]++
	}
	return stats, nil
}

func intPtr(v int) *int { return &v }
