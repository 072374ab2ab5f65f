package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

const paperName = "paper"

// DefaultPaperCapital - стартовый капитал paper-счёта
var DefaultPaperCapital = decimal.NewFromInt(1_000_000)

type paperOrder struct {
	req    OrderRequest
	record OrderStatusRecord
	placed time.Time
}

// PaperAdapter - симуляция брокера для trading_mode=paper.
//
// MARKET исполняется по последней увиденной цене закрытия свечи, LIMIT по своей цене.
// SL и SL-M ждут пересечения trigger_price в ObservePrice.
type PaperAdapter struct {
	mu sync.Mutex

	initial   decimal.Decimal
	cash      decimal.Decimal
	prices    map[string]decimal.Decimal
	orders    map[string]*paperOrder
	positions map[string]*PositionRecord

	now func() time.Time
}

var _ Adapter = (*PaperAdapter)(nil)

// NewPaperAdapter создаёт paper-счёт с начальным капиталом
func NewPaperAdapter(initialCapital decimal.Decimal) *PaperAdapter {
	if !initialCapital.IsPositive() {
		initialCapital = DefaultPaperCapital
	}
	return &PaperAdapter{
		initial:   initialCapital,
		cash:      initialCapital,
		prices:    make(map[string]decimal.Decimal),
		orders:    make(map[string]*paperOrder),
		positions: make(map[string]*PositionRecord),
		now:       time.Now,
	}
}

// Name возвращает имя брокера
func (p *PaperAdapter) Name() string { return paperName }

// Authenticate всегда успешен
func (p *PaperAdapter) Authenticate(_ context.Context, _, _ string) (string, error) {
	return "paper-session", nil
}

// ObservePrice запоминает цену закрытия и исполняет сработавшие стоп-заявки
func (p *PaperAdapter) ObservePrice(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[symbol] = price

	for _, o := range p.orders {
		if o.record.Status != models.OrderStatusOpen || o.req.Symbol != symbol {
			continue
		}
		if !triggered(o.req, price) {
			continue
		}
		fill := price
		if o.req.OrderType == models.OrderTypeStopLoss && o.req.Price.Valid {
			fill = o.req.Price.Decimal
		}
		if err := p.fillLocked(o, fill); err != nil {
			o.record.Status = models.OrderStatusRejected
			o.record.Message = err.Error()
		}
	}
}

// LastPrice возвращает последнюю цену символа
func (p *PaperAdapter) LastPrice(symbol string) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	return price, ok
}

// PlaceOrder исполняет заявку сразу либо оставляет стоп-заявку открытой
func (p *PaperAdapter) PlaceOrder(_ context.Context, req OrderRequest) (*PlaceOrderResult, error) {
	const op = "place_order"

	if req.Quantity <= 0 {
		return nil, newError(paperName, op, ErrOrder, "quantity must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o := &paperOrder{
		req: req,
		record: OrderStatusRecord{
			BrokerOrderID: "PAPER-" + uuid.NewString(),
			Status:        models.OrderStatusOpen,
		},
		placed: p.now(),
	}

	switch req.OrderType {
	case models.OrderTypeStopLoss, models.OrderTypeStopLossMkt:
		if !req.TriggerPrice.Valid {
			return nil, newError(paperName, op, ErrOrder, "trigger price required for %s", req.OrderType)
		}
	case models.OrderTypeLimit:
		if !req.Price.Valid {
			return nil, newError(paperName, op, ErrOrder, "limit price required")
		}
		if err := p.fillLocked(o, req.Price.Decimal); err != nil {
			return nil, err
		}
	default:
		price, ok := p.prices[req.Symbol]
		if !ok {
			return nil, newError(paperName, op, ErrOrder, "no market price for %s", req.Symbol)
		}
		if err := p.fillLocked(o, price); err != nil {
			return nil, err
		}
	}

	p.orders[o.record.BrokerOrderID] = o
	return &PlaceOrderResult{
		BrokerOrderID: o.record.BrokerOrderID,
		Status:        PlaceStatusSuccess,
		Raw:           paperRaw(o),
	}, nil
}

// CancelOrder отменяет открытую стоп-заявку
func (p *PaperAdapter) CancelOrder(_ context.Context, brokerOrderID string) (bool, error) {
	const op = "cancel_order"

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[brokerOrderID]
	if !ok {
		return false, newError(paperName, op, ErrOrder, "order %s not found", brokerOrderID)
	}
	if o.record.Status.IsTerminal() {
		return false, newError(paperName, op, ErrOrder, "order %s already %s", brokerOrderID, o.record.Status)
	}
	o.record.Status = models.OrderStatusCancelled
	return true, nil
}

// GetOrderStatus возвращает статус заявки
func (p *PaperAdapter) GetOrderStatus(_ context.Context, brokerOrderID string) (*OrderStatusRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, newError(paperName, "order_status", ErrOrder, "order %s not found", brokerOrderID)
	}
	rec := o.record
	rec.Raw = paperRaw(o)
	return &rec, nil
}

// FetchPositions возвращает ненулевые позиции
func (p *PaperAdapter) FetchPositions(_ context.Context) ([]PositionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PositionRecord, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Quantity == 0 {
			continue
		}
		rec := *pos
		if last, ok := p.prices[pos.Symbol]; ok {
			rec.LastPrice = decimal.NewNullDecimal(last)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// FetchOrders возвращает заявки в порядке размещения
func (p *PaperAdapter) FetchOrders(_ context.Context, query OrderQuery) ([]OrderStatusRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	matched := make([]*paperOrder, 0, len(p.orders))
	for _, o := range p.orders {
		if query.Status != "" && string(o.record.Status) != query.Status {
			continue
		}
		if query.Symbol != "" && o.req.Symbol != query.Symbol {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].placed.Before(matched[j].placed) })

	out := make([]OrderStatusRecord, 0, len(matched))
	for _, o := range matched {
		rec := o.record
		rec.Raw = paperRaw(o)
		out = append(out, rec)
	}
	return out, nil
}

// GetAccountBalance: доступно = кэш, использовано = стоимость открытых позиций по цене входа
func (p *PaperAdapter) GetAccountBalance(_ context.Context) (*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := decimal.Zero
	for _, pos := range p.positions {
		used = used.Add(utils.Notional(pos.AveragePrice, absInt(pos.Quantity)))
	}
	return &Balance{
		AvailableBalance: p.cash,
		UsedMargin:       used,
		TotalMargin:      p.initial,
		Collateral:       decimal.Zero,
	}, nil
}

// вызывается под mu
func (p *PaperAdapter) fillLocked(o *paperOrder, price decimal.Decimal) error {
	notional := utils.Notional(price, o.req.Quantity)
	if o.req.Side == models.SideBuy && notional.GreaterThan(p.cash) {
		return newError(paperName, "place_order", ErrOrder,
			"insufficient funds: need %s, available %s", notional.StringFixed(2), p.cash.StringFixed(2))
	}

	if o.req.Side == models.SideBuy {
		p.cash = p.cash.Sub(notional)
	} else {
		p.cash = p.cash.Add(notional)
	}

	key := fmt.Sprintf("%s|%s|%s", o.req.Exchange, o.req.Symbol, o.req.ProductType)
	pos, ok := p.positions[key]
	if !ok {
		pos = &PositionRecord{
			Symbol:      o.req.Symbol,
			Exchange:    o.req.Exchange,
			ProductType: o.req.ProductType,
		}
		p.positions[key] = pos
	}
	pos.Quantity, pos.AveragePrice = utils.ApplyFill(pos.Quantity, pos.AveragePrice,
		utils.SignedQuantity(string(o.req.Side), o.req.Quantity), price)

	o.record.Status = models.OrderStatusFilled
	o.record.FilledQuantity = o.req.Quantity
	o.record.AveragePrice = decimal.NewNullDecimal(price)
	return nil
}

func triggered(req OrderRequest, price decimal.Decimal) bool {
	trigger := req.TriggerPrice.Decimal
	if req.Side == models.SideBuy {
		return price.GreaterThanOrEqual(trigger)
	}
	return price.LessThanOrEqual(trigger)
}

func paperRaw(o *paperOrder) models.JSONMap {
	raw := models.JSONMap{
		"orderId":     o.record.BrokerOrderID,
		"orderStatus": string(o.record.Status),
		"filledQty":   o.record.FilledQuantity,
	}
	if o.record.AveragePrice.Valid {
		raw["averagePrice"] = o.record.AveragePrice.Decimal.String()
	}
	return raw
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
