package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade - одобренное риском решение стратегии; исполняется одним или несколькими ордерами
type Trade struct {
	ID                    int                 `json:"id" db:"id"`
	StrategyRunID         int                 `json:"strategy_run_id" db:"strategy_run_id"`
	Symbol                string              `json:"symbol" db:"symbol"`
	Exchange              string              `json:"exchange" db:"exchange"`
	Side                  Side                `json:"transaction_type" db:"transaction_type"`
	Quantity              int                 `json:"quantity" db:"quantity"`
	IntendedPrice         decimal.NullDecimal `json:"intended_price" db:"intended_price"`
	ProductType           ProductType         `json:"product_type" db:"product_type"`
	IsCompleted           bool                `json:"is_completed" db:"is_completed"`
	TotalFilledQuantity   int                 `json:"total_filled_quantity" db:"total_filled_quantity"`
	AverageExecutionPrice decimal.NullDecimal `json:"average_execution_price" db:"average_execution_price"`
	CreatedAt             time.Time           `json:"created_at" db:"created_at"`
	CompletedAt           *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt             time.Time           `json:"updated_at" db:"updated_at"`
}

// TradeFilter - фильтры списка сделок
type TradeFilter struct {
	StrategyRunID *int
	Symbol        string
	IsCompleted   *bool
	Limit         int
}
