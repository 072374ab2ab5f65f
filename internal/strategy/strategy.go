// Package strategy - контракт торговой стратегии.
//
// Стратегия - функция от рыночных данных и состояния, которое ведёт движок.
// Она не трогает БД и брокера: все последствия идут через возвращённые TradeIntent.
package strategy

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

// Ошибки стратегий
var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidConfig   = errors.New("invalid strategy config")
)

// MarketData - закрытая свеча. Indicators считает внешний слой рыночных данных.
type MarketData struct {
	Symbol     string             `json:"symbol"`
	Exchange   string             `json:"exchange"`
	Timestamp  time.Time          `json:"timestamp"`
	Open       decimal.Decimal    `json:"open"`
	High       decimal.Decimal    `json:"high"`
	Low        decimal.Decimal    `json:"low"`
	Close      decimal.Decimal    `json:"close"`
	Volume     int64              `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Signal - сигнал индикатора
type Signal struct {
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Exchange string         `json:"exchange"`
	Value    float64        `json:"value"`
	Data     models.JSONMap `json:"data,omitempty"`
}

// TradeIntent - намерение стратегии. Это ещё не ордер.
type TradeIntent struct {
	Symbol        string              `json:"symbol"`
	Exchange      string              `json:"exchange"`
	Side          models.Side         `json:"transaction_type"`
	Quantity      int                 `json:"quantity"`
	IntendedPrice decimal.NullDecimal `json:"intended_price"` // пусто = рыночная заявка
	ProductType   models.ProductType  `json:"product_type"`
	OrderType     models.OrderType    `json:"order_type"`
	Reason        string              `json:"reason,omitempty"`
}

// Validate проверяет намерение перед риск-проверкой
func (i TradeIntent) Validate() error {
	var errs utils.ValidationErrors
	errs.AddError("symbol", utils.ValidateSymbol(i.Symbol))
	errs.AddError("exchange", utils.ValidateExchange(i.Exchange))
	errs.AddError("quantity", utils.ValidateQuantity(i.Quantity))
	errs.AddError("intended_price", utils.ValidatePrice(i.IntendedPrice))
	if !i.Side.Valid() {
		errs.Add("transaction_type", "must be BUY or SELL")
	}
	if !i.ProductType.Valid() {
		errs.Add("product_type", "unknown product type")
	}
	if !i.OrderType.Valid() {
		errs.Add("order_type", "unknown order type")
	}
	if i.OrderType == models.OrderTypeLimit && !i.IntendedPrice.Valid {
		errs.Add("intended_price", "required for LIMIT order")
	}
	return errs.OrNil()
}

// WithDefaults заполняет продукт и тип заявки.
// Тип выводится из цены: есть цена - LIMIT, нет - MARKET.
func (i TradeIntent) WithDefaults() TradeIntent {
	if i.ProductType == "" {
		i.ProductType = models.ProductIntraday
	}
	if i.OrderType == "" {
		if i.IntendedPrice.Valid {
			i.OrderType = models.OrderTypeLimit
		} else {
			i.OrderType = models.OrderTypeMarket
		}
	}
	i.Symbol = utils.NormalizeSymbol(i.Symbol)
	i.Exchange = utils.NormalizeExchange(i.Exchange)
	return i
}

// maxLastSignals - сколько последних намерений хранит состояние
const maxLastSignals = 50

// State - состояние запуска, принадлежит движку.
// Positions: символ -> знаковое количество.
type State struct {
	Positions   map[string]int     `json:"positions"`
	Indicators  map[string]float64 `json:"indicators"`
	LastSignals []TradeIntent      `json:"last_signals"`
	Config      models.JSONMap     `json:"config"`
}

// NewState создаёт пустое состояние с конфигурацией запуска
func NewState(config models.JSONMap) *State {
	return &State{
		Positions:  make(map[string]int),
		Indicators: make(map[string]float64),
		Config:     config.Clone(),
	}
}

// MergeIndicators копирует значения индикаторов свечи в состояние
func (s *State) MergeIndicators(values map[string]float64) {
	for k, v := range values {
		s.Indicators[k] = v
	}
}

// ApplyIntent оптимистично обновляет позицию после принятого намерения
func (s *State) ApplyIntent(i TradeIntent) {
	s.Positions[i.Symbol] += utils.SignedQuantity(string(i.Side), i.Quantity)
	if s.Positions[i.Symbol] == 0 {
		delete(s.Positions, i.Symbol)
	}
}

// RecordSignals сохраняет последние намерения, старые отбрасываются
func (s *State) RecordSignals(intents []TradeIntent) {
	if len(intents) == 0 {
		return
	}
	s.LastSignals = append(s.LastSignals, intents...)
	if n := len(s.LastSignals); n > maxLastSignals {
		s.LastSignals = append([]TradeIntent(nil), s.LastSignals[n-maxLastSignals:]...)
	}
}

// Strategy - реализация стратегии
type Strategy interface {
	// Name - код стратегии в реестре
	Name() string

	// OnCandleClose вызывается на закрытии свечи
	OnCandleClose(md MarketData, state *State) []TradeIntent

	// OnIndicatorSignal вызывается на сигнал индикатора
	OnIndicatorSignal(sig Signal, state *State) []TradeIntent

	// RequiredIndicators - какие индикаторы нужны в MarketData.Indicators
	RequiredIndicators() []string
}
