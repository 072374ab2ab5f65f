// Package broker - унифицированный интерфейс брокерских адаптеров.
//
// Стратегии никогда не обращаются к адаптерам напрямую: заявки идут
// через engine.Processor, статусы подтягивает engine.OrderSyncer.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
)

// Adapter - набор возможностей брокера.
// Любая транспортная или бизнес-ошибка возвращается как *BrokerError.
type Adapter interface {
	// Name возвращает имя брокера (dhan, paper)
	Name() string

	// Authenticate обменивает ключ и секрет на access token
	Authenticate(ctx context.Context, apiKey, apiSecret string) (string, error)

	// PlaceOrder размещает заявку. Одна попытка, без повторов.
	PlaceOrder(ctx context.Context, req OrderRequest) (*PlaceOrderResult, error)

	// CancelOrder отменяет заявку по id брокера
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)

	// GetOrderStatus возвращает текущий статус заявки
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderStatusRecord, error)

	// FetchPositions возвращает позиции счёта
	FetchPositions(ctx context.Context) ([]PositionRecord, error)

	// FetchOrders возвращает заявки с необязательными фильтрами
	FetchOrders(ctx context.Context, query OrderQuery) ([]OrderStatusRecord, error)

	// GetAccountBalance возвращает средства счёта
	GetAccountBalance(ctx context.Context) (*Balance, error)
}

// OrderRequest - брокеро-независимая заявка.
// Строится из сохранённого Order, а не из исходного намерения стратегии.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Side         models.Side
	Quantity     int
	OrderType    models.OrderType
	ProductType  models.ProductType
	Price        decimal.NullDecimal
	TriggerPrice decimal.NullDecimal
}

// OrderRequestFromOrder собирает запрос из строки orders
func OrderRequestFromOrder(o *models.Order) OrderRequest {
	return OrderRequest{
		Symbol:       o.Symbol,
		Exchange:     o.Exchange,
		Side:         o.Side,
		Quantity:     o.Quantity,
		OrderType:    o.OrderType,
		ProductType:  o.ProductType,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
	}
}

// Статусы ответа на размещение
const (
	PlaceStatusSuccess = "success"
	PlaceStatusPending = "pending"
)

// PlaceOrderResult - ответ брокера на размещение
type PlaceOrderResult struct {
	BrokerOrderID string
	Status        string
	Message       string
	Raw           models.JSONMap
}

// OrderStatusRecord - статус заявки у брокера в терминах models.OrderStatus
type OrderStatusRecord struct {
	BrokerOrderID  string
	Status         models.OrderStatus
	FilledQuantity int
	AveragePrice   decimal.NullDecimal
	Message        string
	Raw            models.JSONMap
}

// OrderQuery - фильтры FetchOrders, пустые поля не передаются
type OrderQuery struct {
	Status string
	Symbol string
}

// PositionRecord - позиция у брокера
type PositionRecord struct {
	Symbol       string
	Exchange     string
	Quantity     int
	AveragePrice decimal.Decimal
	LastPrice    decimal.NullDecimal
	ProductType  models.ProductType
}

// Balance - средства счёта
type Balance struct {
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UsedMargin       decimal.Decimal `json:"used_margin"`
	TotalMargin      decimal.Decimal `json:"total_margin"`
	Collateral       decimal.Decimal `json:"collateral"`
}
