package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"algopilot/internal/models"
)

const riskEventColumns = `id, strategy_run_id, broker_account_id, event_type, message, metadata, was_blocked, created_at`

// RiskEventRepository - журнал риск-событий (только вставка и чтение)
type RiskEventRepository struct {
	db *sql.DB
}

// NewRiskEventRepository создает новый экземпляр репозитория
func NewRiskEventRepository(db *sql.DB) *RiskEventRepository {
	return &RiskEventRepository{db: db}
}

// Create добавляет событие в журнал
func (r *RiskEventRepository) Create(ctx context.Context, e *models.RiskEvent) error {
	e.CreatedAt = time.Now()
	return r.db.QueryRowContext(ctx, `
		INSERT INTO risk_events (strategy_run_id, broker_account_id, event_type, message, metadata, was_blocked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.StrategyRunID, e.BrokerAccountID, e.EventType, e.Message, e.Metadata, e.WasBlocked, e.CreatedAt,
	).Scan(&e.ID)
}

// List возвращает события, новые первыми (limit по умолчанию 100, максимум 1000)
func (r *RiskEventRepository) List(ctx context.Context, f models.RiskEventFilter) ([]*models.RiskEvent, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.StrategyRunID != nil {
		args = append(args, *f.StrategyRunID)
		conds = append(conds, fmt.Sprintf("strategy_run_id = $%d", len(args)))
	}
	if f.BrokerAccountID != nil {
		args = append(args, *f.BrokerAccountID)
		conds = append(conds, fmt.Sprintf("broker_account_id = $%d", len(args)))
	}

	query := `SELECT ` + riskEventColumns + ` FROM risk_events`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, normalizeLimit(f.Limit, 100, 1000))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.RiskEvent
	for rows.Next() {
		e := &models.RiskEvent{}
		if err := rows.Scan(
			&e.ID,
			&e.StrategyRunID,
			&e.BrokerAccountID,
			&e.EventType,
			&e.Message,
			&e.Metadata,
			&e.WasBlocked,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// StatsSince считает события начиная с since
func (r *RiskEventRepository) StatsSince(ctx context.Context, since time.Time) (*models.RiskStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, was_blocked, COUNT(*) FROM risk_events
		WHERE created_at >= $1
		GROUP BY event_type, was_blocked`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.RiskStats{ByType: make(map[models.RiskEventType]int)}
	for rows.Next() {
		var (
			eventType models.RiskEventType
			blocked   bool
			n         int
		)
		if err := rows.Scan(&eventType, &blocked, &n); err != nil {
			return nil, err
		}
		stats.TodayTotal += n
		if blocked {
			stats.TodayBlocked += n
		}
		stats.ByType[eventType] += n
	}
	return stats, rows.Err()
}
