package models

import "time"

// RiskEvent - неизменяемая запись о заблокированном или помеченном действии
type RiskEvent struct {
	ID              int           `json:"id" db:"id"`
	StrategyRunID   *int          `json:"strategy_run_id" db:"strategy_run_id"`
	BrokerAccountID *int          `json:"broker_account_id" db:"broker_account_id"`
	EventType       RiskEventType `json:"event_type" db:"event_type"`
	Message         string        `json:"message" db:"message"`
	Metadata        JSONMap       `json:"metadata,omitempty" db:"metadata"`
	WasBlocked      bool          `json:"was_blocked" db:"was_blocked"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// RiskEventFilter - фильтры журнала риск-событий
type RiskEventFilter struct {
	StrategyRunID   *int
	BrokerAccountID *int
	Limit           int
}

// RiskStats - агрегаты журнала за день
type RiskStats struct {
	TodayTotal   int                   `json:"today_total"`
	TodayBlocked int                   `json:"today_blocked"`
	ByType       map[RiskEventType]int `json:"by_type"`
}
