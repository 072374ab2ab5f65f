package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - DDL в порядке зависимостей. Все операторы идемпотентны.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS broker_accounts (
		id SERIAL PRIMARY KEY,
		broker_name VARCHAR(50) NOT NULL,
		account_id VARCHAR(100) NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		api_secret TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS strategies (
		id SERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		strategy_code VARCHAR(100) NOT NULL,
		config_schema JSONB NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS strategy_runs (
		id SERIAL PRIMARY KEY,
		strategy_id INTEGER NOT NULL REFERENCES strategies(id) ON DELETE CASCADE,
		broker_account_id INTEGER REFERENCES broker_accounts(id) ON DELETE SET NULL,
		trading_mode VARCHAR(10) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		config JSONB NOT NULL DEFAULT '{}',
		started_at TIMESTAMPTZ,
		stopped_at TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id SERIAL PRIMARY KEY,
		strategy_run_id INTEGER NOT NULL REFERENCES strategy_runs(id) ON DELETE CASCADE,
		symbol VARCHAR(50) NOT NULL,
		exchange VARCHAR(10) NOT NULL,
		transaction_type VARCHAR(4) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		intended_price NUMERIC(18, 4),
		product_type VARCHAR(10) NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		total_filled_quantity INTEGER NOT NULL DEFAULT 0,
		average_execution_price NUMERIC(18, 4),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		broker_account_id INTEGER NOT NULL REFERENCES broker_accounts(id) ON DELETE RESTRICT,
		strategy_run_id INTEGER REFERENCES strategy_runs(id) ON DELETE SET NULL,
		trade_id INTEGER REFERENCES trades(id) ON DELETE SET NULL,
		broker_order_id VARCHAR(100) UNIQUE,
		symbol VARCHAR(50) NOT NULL,
		exchange VARCHAR(10) NOT NULL,
		order_type VARCHAR(10) NOT NULL,
		product_type VARCHAR(10) NOT NULL,
		transaction_type VARCHAR(4) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(18, 4),
		trigger_price NUMERIC(18, 4),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		filled_quantity INTEGER NOT NULL DEFAULT 0,
		average_price NUMERIC(18, 4),
		broker_response JSONB NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ,
		filled_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id SERIAL PRIMARY KEY,
		broker_account_id INTEGER NOT NULL REFERENCES broker_accounts(id) ON DELETE CASCADE,
		strategy_run_id INTEGER REFERENCES strategy_runs(id) ON DELETE SET NULL,
		symbol VARCHAR(50) NOT NULL,
		exchange VARCHAR(10) NOT NULL,
		product_type VARCHAR(10) NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		average_price NUMERIC(18, 4) NOT NULL DEFAULT 0,
		last_price NUMERIC(18, 4) NOT NULL DEFAULT 0,
		unrealized_pnl NUMERIC(18, 4) NOT NULL DEFAULT 0,
		opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (broker_account_id, symbol, product_type)
	)`,
	`CREATE TABLE IF NOT EXISTS pnl_snapshots (
		id SERIAL PRIMARY KEY,
		strategy_run_id INTEGER NOT NULL REFERENCES strategy_runs(id) ON DELETE CASCADE,
		timestamp TIMESTAMPTZ NOT NULL,
		realized_pnl NUMERIC(18, 4) NOT NULL DEFAULT 0,
		unrealized_pnl NUMERIC(18, 4) NOT NULL DEFAULT 0,
		total_pnl NUMERIC(18, 4) NOT NULL DEFAULT 0,
		capital_used NUMERIC(18, 4) NOT NULL DEFAULT 0,
		open_positions_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS risk_events (
		id SERIAL PRIMARY KEY,
		strategy_run_id INTEGER REFERENCES strategy_runs(id) ON DELETE SET NULL,
		broker_account_id INTEGER REFERENCES broker_accounts(id) ON DELETE SET NULL,
		event_type VARCHAR(50) NOT NULL,
		message TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		was_blocked BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_run ON orders(strategy_run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(strategy_run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pnl_run_ts ON pnl_snapshots(strategy_run_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_created ON risk_events(created_at DESC)`,
}

// Migrate создаёт таблицы и индексы
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
