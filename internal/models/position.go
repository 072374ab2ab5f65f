package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position - нетто-позиция счёта по инструменту. Quantity знаковый: > 0 лонг, < 0 шорт.
type Position struct {
	ID              int             `json:"id" db:"id"`
	BrokerAccountID int             `json:"broker_account_id" db:"broker_account_id"`
	StrategyRunID   *int            `json:"strategy_run_id" db:"strategy_run_id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Exchange        string          `json:"exchange" db:"exchange"`
	ProductType     ProductType     `json:"product_type" db:"product_type"`
	Quantity        int             `json:"quantity" db:"quantity"`
	AveragePrice    decimal.Decimal `json:"average_price" db:"average_price"`
	LastPrice       decimal.Decimal `json:"last_price" db:"last_price"`
	UnrealizedPnl   decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	OpenedAt        time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
