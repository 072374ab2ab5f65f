package models

import "time"

// Strategy - описание стратегии; StrategyCode указывает на реализацию в реестре
type Strategy struct {
	ID           int       `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description,omitempty" db:"description"`
	StrategyCode string    `json:"strategy_code" db:"strategy_code"`
	ConfigSchema JSONMap   `json:"config_schema,omitempty" db:"config_schema"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
