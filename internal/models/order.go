package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order - брокерский ордер, производный от Trade.
// После создания меняются только поля статуса и исполнения.
type Order struct {
	ID              int                 `json:"id" db:"id"`
	BrokerAccountID int                 `json:"broker_account_id" db:"broker_account_id"`
	StrategyRunID   *int                `json:"strategy_run_id" db:"strategy_run_id"`
	TradeID         *int                `json:"trade_id" db:"trade_id"`
	BrokerOrderID   *string             `json:"broker_order_id" db:"broker_order_id"`
	Symbol          string              `json:"symbol" db:"symbol"`
	Exchange        string              `json:"exchange" db:"exchange"`
	OrderType       OrderType           `json:"order_type" db:"order_type"`
	ProductType     ProductType         `json:"product_type" db:"product_type"`
	Side            Side                `json:"transaction_type" db:"transaction_type"`
	Quantity        int                 `json:"quantity" db:"quantity"`
	Price           decimal.NullDecimal `json:"price" db:"price"`
	TriggerPrice    decimal.NullDecimal `json:"trigger_price" db:"trigger_price"`
	Status          OrderStatus         `json:"status" db:"status"`
	FilledQuantity  int                 `json:"filled_quantity" db:"filled_quantity"`
	AveragePrice    decimal.NullDecimal `json:"average_price" db:"average_price"`
	BrokerResponse  JSONMap             `json:"broker_response,omitempty" db:"broker_response"`
	ErrorMessage    string              `json:"error_message,omitempty" db:"error_message"`
	SubmittedAt     *time.Time          `json:"submitted_at,omitempty" db:"submitted_at"`
	FilledAt        *time.Time          `json:"filled_at,omitempty" db:"filled_at"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

// OrderFilter - фильтры списка ордеров
type OrderFilter struct {
	StrategyRunID *int
	Status        OrderStatus
	Symbol        string
	Limit         int
}

// OrderFill - обновление статуса/исполнения, пришедшее от брокера
type OrderFill struct {
	Status         OrderStatus
	FilledQuantity int
	AveragePrice   decimal.NullDecimal
	Message        string
}
