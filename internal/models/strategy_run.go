package models

import "time"

// StrategyRun - один запуск стратегии на одном брокерском счёте
type StrategyRun struct {
	ID              int         `json:"id" db:"id"`
	StrategyID      int         `json:"strategy_id" db:"strategy_id"`
	BrokerAccountID *int        `json:"broker_account_id" db:"broker_account_id"` // NULL после удаления счёта
	TradingMode     TradingMode `json:"trading_mode" db:"trading_mode"`
	Status          RunStatus   `json:"status" db:"status"`
	Config          JSONMap     `json:"config" db:"config"`
	StartedAt       *time.Time  `json:"started_at,omitempty" db:"started_at"`
	StoppedAt       *time.Time  `json:"stopped_at,omitempty" db:"stopped_at"`
	ErrorMessage    string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// IsTerminal - stopped и error конечные
func (r *StrategyRun) IsTerminal() bool {
	return r.Status == RunStatusStopped || r.Status == RunStatusError
}
