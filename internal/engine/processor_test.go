package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/risk"
	"algopilot/internal/strategy"
)

type countingOpenPositions struct {
	open  int
	calls int
}

func (c *countingOpenPositions) CountOpen(context.Context, int) (int, error) {
	c.calls++
	return c.open, nil
}

func newTestProcessor(rv RiskValidator, orders *fakeOrders, provider AdapterProvider, n Notifier) *Processor {
	return NewProcessor(rv, orders, orders, provider, n, nil, DefaultProcessorConfig())
}

func runningRun() *models.StrategyRun {
	r := pendingRun(3)
	r.Status = models.RunStatusRunning
	return r
}

// Разрешённое намерение: сделка + ордер pending, затем фоновая отправка → submitted
func TestProcess_ScenarioA_AllowedAndSubmitted(t *testing.T) {
	orders := newFakeOrders()
	events := &fakeRiskEvents{}
	engine := risk.NewEngine(
		risk.DefaultRules(risk.DefaultLimits(), fakeSnapshots{}, fakeOpenPositions(3), nil),
		events, nil)
	adapter := newFakeAdapter()
	notifier := &recordingNotifier{}
	p := newTestProcessor(engine, orders, fakeProvider{adapter: adapter}, notifier)

	res, err := p.Process(context.Background(), runningRun(), tcsIntent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Wait()

	if res.Outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s, want accepted", res.Outcome)
	}
	if res.Trade == nil || res.Order == nil {
		t.Fatal("trade and order must be returned")
	}
	if res.Order.Status != models.OrderStatusPending {
		t.Errorf("created order status = %s, want pending", res.Order.Status)
	}
	if res.Order.TradeID == nil || *res.Order.TradeID != res.Trade.ID {
		t.Errorf("order must reference trade %d, got %v", res.Trade.ID, res.Order.TradeID)
	}
	if res.Trade.IsCompleted || res.Trade.TotalFilledQuantity != 0 {
		t.Errorf("new trade must be incomplete: %+v", res.Trade)
	}

	trades, ordersN := orders.counts()
	if trades != 1 || ordersN != 1 {
		t.Errorf("stored trades=%d orders=%d, want 1 and 1", trades, ordersN)
	}

	stored := orders.order(res.Order.ID)
	if stored.Status != models.OrderStatusSubmitted {
		t.Errorf("stored status = %s, want submitted", stored.Status)
	}
	if stored.BrokerOrderID == nil || *stored.BrokerOrderID != "B-1" {
		t.Errorf("broker order id = %v, want B-1", stored.BrokerOrderID)
	}
	if stored.SubmittedAt == nil {
		t.Error("submitted_at must be set")
	}

	if adapter.placedCount() != 1 {
		t.Fatalf("PlaceOrder calls = %d, want 1", adapter.placedCount())
	}
	req := adapter.placed[0]
	if req.OrderType != models.OrderTypeMarket || req.Price.Valid {
		t.Errorf("market order request = %+v, want MARKET without price", req)
	}
	if req.ProductType != models.ProductIntraday {
		t.Errorf("product type = %s, want INTRADAY default", req.ProductType)
	}
	if len(events.events) != 0 {
		t.Errorf("allowed intent must not create risk events, got %d", len(events.events))
	}
}

func TestProcess_ScenarioB_DeniedByOpenPositions(t *testing.T) {
	orders := newFakeOrders()
	events := &fakeRiskEvents{}
	engine := risk.NewEngine(
		risk.DefaultRules(risk.DefaultLimits(), fakeSnapshots{}, fakeOpenPositions(10), nil),
		events, nil)
	adapter := newFakeAdapter()
	notifier := &recordingNotifier{}
	p := newTestProcessor(engine, orders, fakeProvider{adapter: adapter}, notifier)

	res, err := p.Process(context.Background(), runningRun(), tcsIntent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Wait()

	if res.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", res.Outcome)
	}
	if res.Trade != nil || res.Order != nil {
		t.Error("denied intent must not return trade or order")
	}
	if trades, n := orders.counts(); trades != 0 || n != 0 {
		t.Errorf("stored trades=%d orders=%d, want none", trades, n)
	}
	if len(events.events) != 1 {
		t.Fatalf("risk events = %d, want 1", len(events.events))
	}
	e := events.events[0]
	if e.EventType != models.RiskMaxOpenPositions || !e.WasBlocked {
		t.Errorf("event = %+v, want blocked max_open_positions", e)
	}
	if notifier.riskCount() != 1 {
		t.Errorf("risk broadcasts = %d, want 1", notifier.riskCount())
	}
	if adapter.placedCount() != 0 {
		t.Error("denied intent must not reach the broker")
	}
}

func TestProcess_ScenarioC_DailyLossDeniesFirst(t *testing.T) {
	orders := newFakeOrders()
	events := &fakeRiskEvents{}
	positions := &countingOpenPositions{open: 0}
	snap := &models.PnlSnapshot{
		StrategyRunID: 3,
		TotalPnl:      decimal.NewFromInt(-600),
		CapitalUsed:   decimal.NewFromInt(10000),
	}
	engine := risk.NewEngine(
		risk.DefaultRules(risk.DefaultLimits(), fakeSnapshots{snap: snap}, positions, nil),
		events, nil)
	p := newTestProcessor(engine, orders, fakeProvider{adapter: newFakeAdapter()}, nil)

	res, err := p.Process(context.Background(), runningRun(), tcsIntent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeDenied || res.Risk.EventType != models.RiskMaxDailyLoss {
		t.Fatalf("result = %+v, want max_daily_loss denial", res)
	}
	if positions.calls != 0 {
		t.Errorf("open positions rule evaluated %d times, want 0", positions.calls)
	}
	if len(events.events) != 1 || !events.events[0].WasBlocked {
		t.Errorf("want exactly one blocked event, got %+v", events.events)
	}
}

// Сбой транзакции: ни сделки, ни ордера, брокер не вызывается
func TestProcess_TransactionFailureLeavesNothing(t *testing.T) {
	orders := newFakeOrders()
	orders.failTx = errors.New("insert order: connection reset")
	adapter := newFakeAdapter()
	p := newTestProcessor(allowAll(), orders, fakeProvider{adapter: adapter}, nil)

	_, err := p.Process(context.Background(), runningRun(), tcsIntent())
	p.Wait()

	if err == nil || !strings.Contains(err.Error(), "create trade with order") {
		t.Fatalf("err = %v, want wrapped persistence error", err)
	}
	if trades, n := orders.counts(); trades != 0 || n != 0 {
		t.Errorf("stored trades=%d orders=%d, want none", trades, n)
	}
	if adapter.placedCount() != 0 {
		t.Error("broker must not be called after failed insert")
	}
}

func TestProcess_BrokerFailureRejectsOrder(t *testing.T) {
	orders := newFakeOrders()
	adapter := newFakeAdapter()
	adapter.placeErr = &broker.BrokerError{Broker: "fake", Op: "place order", Message: "insufficient margin", Kind: broker.ErrOrder}
	notifier := &recordingNotifier{}
	p := newTestProcessor(allowAll(), orders, fakeProvider{adapter: adapter}, notifier)

	res, err := p.Process(context.Background(), runningRun(), tcsIntent())
	if err != nil {
		t.Fatalf("broker failure must not surface from Process: %v", err)
	}
	p.Wait()

	stored := orders.order(res.Order.ID)
	if stored.Status != models.OrderStatusRejected {
		t.Fatalf("status = %s, want rejected", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "insufficient margin") {
		t.Errorf("error message = %q, want broker message", stored.ErrorMessage)
	}
	if stored.BrokerOrderID != nil {
		t.Error("rejected order must not have broker order id")
	}
}

func TestProcess_AdapterUnavailableRejectsOrder(t *testing.T) {
	orders := newFakeOrders()
	p := newTestProcessor(allowAll(), orders, fakeProvider{err: errors.New("credentials missing")}, nil)

	res, err := p.Process(context.Background(), runningRun(), tcsIntent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Wait()

	stored := orders.order(res.Order.ID)
	if stored.Status != models.OrderStatusRejected {
		t.Fatalf("status = %s, want rejected", stored.Status)
	}
	if !strings.HasPrefix(stored.ErrorMessage, "broker unavailable") {
		t.Errorf("error message = %q", stored.ErrorMessage)
	}
}

func TestProcess_InvalidIntentSkipsRisk(t *testing.T) {
	rv := allowAll()
	p := newTestProcessor(rv, newFakeOrders(), fakeProvider{adapter: newFakeAdapter()}, nil)

	tests := []struct {
		name   string
		intent strategy.TradeIntent
	}{
		{"zero quantity", strategy.TradeIntent{Symbol: "TCS", Exchange: "NSE", Side: models.SideBuy}},
		{"bad side", strategy.TradeIntent{Symbol: "TCS", Exchange: "NSE", Side: "HOLD", Quantity: 1}},
		{"limit without price", strategy.TradeIntent{Symbol: "TCS", Exchange: "NSE", Side: models.SideBuy, Quantity: 1, OrderType: models.OrderTypeLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Process(context.Background(), runningRun(), tt.intent)
			if !errors.Is(err, ErrInvalidIntent) {
				t.Fatalf("err = %v, want ErrInvalidIntent", err)
			}
			if res == nil || res.Outcome != OutcomeInvalid {
				t.Errorf("outcome = %+v, want invalid", res)
			}
		})
	}
	if rv.calls != 0 {
		t.Errorf("risk called %d times for invalid intents", rv.calls)
	}
}

func TestProcess_RunWithoutBrokerAccount(t *testing.T) {
	run := runningRun()
	run.BrokerAccountID = nil
	p := newTestProcessor(allowAll(), newFakeOrders(), fakeProvider{adapter: newFakeAdapter()}, nil)

	_, err := p.Process(context.Background(), run, tcsIntent())
	if !errors.Is(err, ErrNoBrokerAccount) {
		t.Fatalf("err = %v, want ErrNoBrokerAccount", err)
	}
}

func TestProcess_RiskErrorSurfaces(t *testing.T) {
	orders := newFakeOrders()
	rv := &fakeRisk{err: errors.New("record risk event: db down")}
	p := newTestProcessor(rv, orders, fakeProvider{adapter: newFakeAdapter()}, nil)

	_, err := p.Process(context.Background(), runningRun(), tcsIntent())
	if err == nil || !strings.Contains(err.Error(), "risk validation") {
		t.Fatalf("err = %v, want risk validation error", err)
	}
	if trades, n := orders.counts(); trades != 0 || n != 0 {
		t.Error("no rows expected after risk failure")
	}
}

func TestProcess_LimitOrderCarriesPrice(t *testing.T) {
	orders := newFakeOrders()
	adapter := newFakeAdapter()
	p := newTestProcessor(allowAll(), orders, fakeProvider{adapter: adapter}, nil)

	intent := tcsIntent()
	intent.Symbol = " tcs "
	intent.Exchange = "nse"
	intent.IntendedPrice = decimal.NewNullDecimal(decimal.RequireFromString("3500.50"))

	res, err := p.Process(context.Background(), runningRun(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Wait()

	if res.Order.OrderType != models.OrderTypeLimit {
		t.Errorf("order type = %s, want LIMIT inferred from price", res.Order.OrderType)
	}
	if res.Order.Symbol != "TCS" || res.Order.Exchange != "NSE" {
		t.Errorf("symbol/exchange = %s/%s, want normalized", res.Order.Symbol, res.Order.Exchange)
	}
	if !res.Order.Price.Valid || !res.Order.Price.Decimal.Equal(decimal.RequireFromString("3500.50")) {
		t.Errorf("order price = %v", res.Order.Price)
	}
	if !adapter.placed[0].Price.Valid {
		t.Error("broker request must carry the persisted price")
	}
}

func TestSubmitOrder_NonPendingIsNoop(t *testing.T) {
	orders := newFakeOrders()
	bid := "B-9"
	orders.put(&models.Order{ID: 1, BrokerAccountID: 7, Status: models.OrderStatusSubmitted, BrokerOrderID: &bid})
	adapter := newFakeAdapter()
	p := newTestProcessor(allowAll(), orders, fakeProvider{adapter: adapter}, nil)

	o, err := p.SubmitOrder(context.Background(), 1, models.TradingModeLive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != models.OrderStatusSubmitted || adapter.placedCount() != 0 {
		t.Errorf("submitted order must not be placed again")
	}
}

// Брокер принял ордер, но запись не удалась: ошибка наружу, ордер остаётся pending
func TestSubmitOrder_RecordFailure(t *testing.T) {
	orders := newFakeOrders()
	orders.put(&models.Order{ID: 1, BrokerAccountID: 7, Status: models.OrderStatusPending, Symbol: "TCS"})
	orders.failMark = errors.New("db down")
	p := newTestProcessor(allowAll(), orders, fakeProvider{adapter: newFakeAdapter()}, nil)

	_, err := p.SubmitOrder(context.Background(), 1, models.TradingModeLive)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := orders.order(1).Status; got != models.OrderStatusPending {
		t.Errorf("status = %s, want pending", got)
	}
}
