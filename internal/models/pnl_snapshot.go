package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnlSnapshot - срез P&L запуска на момент Timestamp
type PnlSnapshot struct {
	ID                 int             `json:"id" db:"id"`
	StrategyRunID      int             `json:"strategy_run_id" db:"strategy_run_id"`
	Timestamp          time.Time       `json:"timestamp" db:"timestamp"`
	RealizedPnl        decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnl      decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	TotalPnl           decimal.Decimal `json:"total_pnl" db:"total_pnl"`
	CapitalUsed        decimal.Decimal `json:"capital_used" db:"capital_used"`
	OpenPositionsCount int             `json:"open_positions_count" db:"open_positions_count"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}
