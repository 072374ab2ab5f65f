package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/internal/risk"
	"algopilot/internal/strategy"
)

func intPtr(v int) *int { return &v }

// ============ Хранилища ============

type fillCall struct {
	orderID int
	qty     int
	price   decimal.Decimal
}

// fakeOrders хранит сделки и ордера в памяти; реализует ExecutionStore, OrderStore и FillStore
type fakeOrders struct {
	mu           sync.Mutex
	nextID       int
	trades       map[int]*models.Trade
	orders       map[int]*models.Order
	failTx       error // сбой внутри транзакции: ничего не сохраняется
	failMark     error // сбой MarkSubmitted
	failFills    int   // столько вызовов ApplyOrderFill завершатся ошибкой
	fills        []fillCall
	recalculated []int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{trades: map[int]*models.Trade{}, orders: map[int]*models.Order{}}
}

func (f *fakeOrders) CreateTradeWithOrder(_ context.Context, trade *models.Trade, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTx != nil {
		return f.failTx
	}
	f.nextID++
	trade.ID = f.nextID
	f.nextID++
	order.ID = f.nextID
	order.TradeID = &trade.ID

	tc, oc := *trade, *order
	f.trades[trade.ID] = &tc
	f.orders[order.ID] = &oc
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id int) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (f *fakeOrders) MarkSubmitted(_ context.Context, id int, brokerOrderID string, response models.JSONMap, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark != nil {
		return f.failMark
	}
	o, ok := f.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return repository.ErrOrderStatusConflict
	}
	o.Status = models.OrderStatusSubmitted
	o.BrokerOrderID = &brokerOrderID
	o.BrokerResponse = response
	o.SubmittedAt = &at
	return nil
}

func (f *fakeOrders) MarkRejected(_ context.Context, id int, message string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return repository.ErrOrderStatusConflict
	}
	o.Status = models.OrderStatusRejected
	o.ErrorMessage = message
	return nil
}

func (f *fakeOrders) ListActive(_ context.Context, limit int) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Order
	for id := 1; id <= f.nextID; id++ {
		o, ok := f.orders[id]
		if !ok || o.BrokerOrderID == nil {
			continue
		}
		switch o.Status {
		case models.OrderStatusSubmitted, models.OrderStatusOpen, models.OrderStatusPartiallyFilled:
			c := *o
			out = append(out, &c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOrders) ApplyStatus(_ context.Context, id int, from models.OrderStatus, fill models.OrderFill, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(id, from, fill)
}

// ApplyOrderFill ведёт себя как транзакция: при ошибке ничего не меняется
func (f *fakeOrders) ApplyOrderFill(_ context.Context, order *models.Order, fill models.OrderFill, qty int, price decimal.Decimal, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFills > 0 {
		f.failFills--
		return errors.New("position write failed")
	}
	if err := f.applyLocked(order.ID, order.Status, fill); err != nil {
		return err
	}
	if qty != 0 {
		f.fills = append(f.fills, fillCall{orderID: order.ID, qty: qty, price: price})
	}
	if order.TradeID != nil && fill.FilledQuantity > order.FilledQuantity {
		f.recalculated = append(f.recalculated, *order.TradeID)
	}
	return nil
}

func (f *fakeOrders) applyLocked(id int, from models.OrderStatus, fill models.OrderFill) error {
	o, ok := f.orders[id]
	if !ok || o.Status != from {
		return repository.ErrOrderStatusConflict
	}
	o.Status = fill.Status
	o.FilledQuantity = fill.FilledQuantity
	if fill.AveragePrice.Valid {
		o.AveragePrice = fill.AveragePrice
	}
	if fill.Message != "" {
		o.ErrorMessage = fill.Message
	}
	return nil
}

// put добавляет ордер напрямую (для тестов синхронизации)
func (f *fakeOrders) put(o *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ID > f.nextID {
		f.nextID = o.ID
	}
	c := *o
	f.orders[o.ID] = &c
}

func (f *fakeOrders) order(id int) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

func (f *fakeOrders) counts() (trades, orders int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades), len(f.orders)
}

type fakeRuns struct {
	mu   sync.Mutex
	runs map[int]*models.StrategyRun
}

func newFakeRuns(runs ...*models.StrategyRun) *fakeRuns {
	f := &fakeRuns{runs: map[int]*models.StrategyRun{}}
	for _, r := range runs {
		c := *r
		f.runs[r.ID] = &c
	}
	return f
}

func (f *fakeRuns) GetByID(_ context.Context, id int) (*models.StrategyRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, repository.ErrStrategyRunNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeRuns) List(_ context.Context, _ *int) ([]*models.StrategyRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StrategyRun
	for _, r := range f.runs {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeRuns) MarkRunning(_ context.Context, id int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok || r.Status != models.RunStatusPending {
		return repository.ErrRunStatusConflict
	}
	r.Status = models.RunStatusRunning
	r.StartedAt = &at
	return nil
}

func (f *fakeRuns) MarkStopped(_ context.Context, id int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return repository.ErrStrategyRunNotFound
	}
	r.Status = models.RunStatusStopped
	r.StoppedAt = &at
	return nil
}

func (f *fakeRuns) MarkError(_ context.Context, id int, message string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return repository.ErrStrategyRunNotFound
	}
	r.Status = models.RunStatusError
	r.ErrorMessage = message
	r.StoppedAt = &at
	return nil
}

func (f *fakeRuns) status(id int) (models.RunStatus, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id].Status, f.runs[id].ErrorMessage
}

type fakeStrategies map[int]*models.Strategy

func (f fakeStrategies) GetByID(_ context.Context, id int) (*models.Strategy, error) {
	s, ok := f[id]
	if !ok {
		return nil, repository.ErrStrategyNotFound
	}
	return s, nil
}

// ============ Риск ============

type fakeRisk struct {
	mu     sync.Mutex
	result risk.Result
	err    error
	calls  int
}

func allowAll() *fakeRisk { return &fakeRisk{result: risk.Allow()} }

func (f *fakeRisk) Validate(_ context.Context, _ risk.Request, _, _ *int) (risk.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeRiskEvents struct {
	mu     sync.Mutex
	events []*models.RiskEvent
}

func (f *fakeRiskEvents) Create(_ context.Context, e *models.RiskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fakeSnapshots struct {
	snap *models.PnlSnapshot
}

func (f fakeSnapshots) LatestSince(_ context.Context, _ int, _ time.Time) (*models.PnlSnapshot, error) {
	if f.snap == nil {
		return nil, repository.ErrPnlSnapshotNotFound
	}
	return f.snap, nil
}

type fakeOpenPositions int

func (f fakeOpenPositions) CountOpen(_ context.Context, _ int) (int, error) { return int(f), nil }

// ============ Брокер ============

type fakeAdapter struct {
	mu       sync.Mutex
	placeErr error
	placed   []broker.OrderRequest
	statuses map[string]*broker.OrderStatusRecord
	cancel   bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{statuses: map[string]*broker.OrderStatusRecord{}, cancel: true}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Authenticate(context.Context, string, string) (string, error) {
	return "token", nil
}

func (f *fakeAdapter) PlaceOrder(_ context.Context, req broker.OrderRequest) (*broker.PlaceOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &broker.PlaceOrderResult{
		BrokerOrderID: "B-1",
		Status:        broker.PlaceStatusSuccess,
		Raw:           models.JSONMap{"orderId": "B-1"},
	}, nil
}

func (f *fakeAdapter) CancelOrder(_ context.Context, _ string) (bool, error) {
	return f.cancel, nil
}

func (f *fakeAdapter) GetOrderStatus(_ context.Context, id string) (*broker.OrderStatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.statuses[id]
	if !ok {
		return nil, errors.New("unknown order")
	}
	c := *rec
	return &c, nil
}

func (f *fakeAdapter) FetchPositions(context.Context) ([]broker.PositionRecord, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchOrders(context.Context, broker.OrderQuery) ([]broker.OrderStatusRecord, error) {
	return nil, nil
}

func (f *fakeAdapter) GetAccountBalance(context.Context) (*broker.Balance, error) {
	return &broker.Balance{}, nil
}

func (f *fakeAdapter) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

var _ broker.Adapter = (*fakeAdapter)(nil)

type fakeProvider struct {
	adapter broker.Adapter
	err     error
}

func (f fakeProvider) AdapterFor(context.Context, int, models.TradingMode) (broker.Adapter, error) {
	return f.adapter, f.err
}

// ============ Уведомления ============

type recordingNotifier struct {
	mu     sync.Mutex
	orders []models.Order
	runs   []models.RunStatus
	risks  []*models.RiskEvent
}

func (n *recordingNotifier) BroadcastOrderUpdate(o *models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, *o)
}

func (n *recordingNotifier) BroadcastRunUpdate(_ int, status models.RunStatus, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, status)
}

func (n *recordingNotifier) BroadcastRiskEvent(e *models.RiskEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.risks = append(n.risks, e)
}

func (n *recordingNotifier) riskCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.risks)
}

// ============ Стратегии ============

// scriptedStrategy возвращает заранее заданные намерения на каждую свечу
type scriptedStrategy struct {
	onCandle func(md strategy.MarketData, state *strategy.State) []strategy.TradeIntent
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) OnCandleClose(md strategy.MarketData, state *strategy.State) []strategy.TradeIntent {
	if s.onCandle == nil {
		return nil
	}
	return s.onCandle(md, state)
}

func (s *scriptedStrategy) OnIndicatorSignal(strategy.Signal, *strategy.State) []strategy.TradeIntent {
	return nil
}

func (s *scriptedStrategy) RequiredIndicators() []string { return nil }

func registryWith(s strategy.Strategy) *strategy.Registry {
	return strategy.NewRegistry(map[string]strategy.Factory{
		"scripted": func(models.JSONMap) (strategy.Strategy, error) { return s, nil },
	})
}

// blockingProcessor держит Process до закрытия release
type blockingProcessor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   int
	mu      sync.Mutex
}

func (p *blockingProcessor) Process(_ context.Context, _ *models.StrategyRun, intent strategy.TradeIntent) (*ProcessResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return &ProcessResult{Outcome: OutcomeAccepted, Intent: intent}, nil
}

func (p *blockingProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func pendingRun(id int) *models.StrategyRun {
	return &models.StrategyRun{
		ID:              id,
		StrategyID:      1,
		BrokerAccountID: intPtr(7),
		TradingMode:     models.TradingModePaper,
		Status:          models.RunStatusPending,
		Config:          models.JSONMap{},
	}
}

func tcsIntent() strategy.TradeIntent {
	return strategy.TradeIntent{
		Symbol:   "TCS",
		Exchange: "NSE",
		Side:     models.SideBuy,
		Quantity: 10,
	}
}
