package models

// TradingMode - режим исполнения запуска стратегии
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// Valid проверяет допустимость режима
func (m TradingMode) Valid() bool {
	return m == TradingModePaper || m == TradingModeLive
}

// RunStatus - статус запуска стратегии
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusPaused  RunStatus = "paused" // объявлен, переходов нет
	RunStatusStopped RunStatus = "stopped"
	RunStatusError   RunStatus = "error"
)

// OrderStatus - статус брокерского ордера
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal - ордер больше не изменится
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Valid проверяет, что статус из известного набора
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusSubmitted, OrderStatusOpen, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderType - тип заявки
type OrderType string

const (
	OrderTypeMarket      OrderType = "MARKET"
	OrderTypeLimit       OrderType = "LIMIT"
	OrderTypeStopLoss    OrderType = "SL"
	OrderTypeStopLossMkt OrderType = "SL-M"
)

// Valid проверяет тип заявки
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeStopLossMkt:
		return true
	}
	return false
}

// ProductType - продукт (интрадей, маржа, кэш...)
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductMargin   ProductType = "MARGIN"
	ProductCash     ProductType = "CASH"
	ProductCO       ProductType = "CO"
	ProductBO       ProductType = "BO"
)

// Valid проверяет продукт
func (p ProductType) Valid() bool {
	switch p {
	case ProductIntraday, ProductMargin, ProductCash, ProductCO, ProductBO:
		return true
	}
	return false
}

// Side - направление сделки
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid проверяет направление
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// RiskEventType - категория риск-события
type RiskEventType string

const (
	RiskMaxDailyLoss      RiskEventType = "max_daily_loss"
	RiskMaxOpenPositions  RiskEventType = "max_open_positions"
	RiskCapitalLimit      RiskEventType = "capital_limit"
	RiskPerStrategyLimit  RiskEventType = "per_strategy_limit"
	RiskPositionSizeLimit RiskEventType = "position_size_limit"
)
