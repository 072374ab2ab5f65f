package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"algopilot/internal/models"
)

// Ошибки репозитория P&L
var (
	ErrPnlSnapshotNotFound = errors.New("pnl snapshot not found")
)

const pnlColumns = `id, strategy_run_id, timestamp, realized_pnl, unrealized_pnl, total_pnl, capital_used, open_positions_count, created_at`

// PnlRepository - работа с таблицей pnl_snapshots
type PnlRepository struct {
	db *sql.DB
}

// NewPnlRepository создает новый экземпляр репозитория
func NewPnlRepository(db *sql.DB) *PnlRepository {
	return &PnlRepository{db: db}
}

// Create сохраняет срез
func (r *PnlRepository) Create(ctx context.Context, s *models.PnlSnapshot) error {
	s.CreatedAt = time.Now()
	if s.Timestamp.IsZero() {
		s.Timestamp = s.CreatedAt
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO pnl_snapshots (strategy_run_id, timestamp, realized_pnl, unrealized_pnl, total_pnl,
			capital_used, open_positions_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		s.StrategyRunID, s.Timestamp, s.RealizedPnl, s.UnrealizedPnl, s.TotalPnl,
		s.CapitalUsed, s.OpenPositionsCount, s.CreatedAt,
	).Scan(&s.ID)
}

// LatestSince возвращает последний срез запуска не раньше since
func (r *PnlRepository) LatestSince(ctx context.Context, strategyRunID int, since time.Time) (*models.PnlSnapshot, error) {
	s, err := scanPnl(r.db.QueryRowContext(ctx, `
		SELECT `+pnlColumns+` FROM pnl_snapshots
		WHERE strategy_run_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC LIMIT 1`, strategyRunID, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPnlSnapshotNotFound
	}
	return s, err
}

// Latest возвращает последний срез запуска
func (r *PnlRepository) Latest(ctx context.Context, strategyRunID int) (*models.PnlSnapshot, error) {
	return r.LatestSince(ctx, strategyRunID, time.Time{})
}

// List возвращает срезы запуска, новые первыми
func (r *PnlRepository) List(ctx context.Context, strategyRunID, limit int) ([]*models.PnlSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pnlColumns+` FROM pnl_snapshots
		WHERE strategy_run_id = $1
		ORDER BY timestamp DESC LIMIT $2`, strategyRunID, normalizeLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.PnlSnapshot
	for rows.Next() {
		s, err := scanPnl(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanPnl(s rowScanner) (*models.PnlSnapshot, error) {
	p := &models.PnlSnapshot{}
	if err := s.Scan(
		&p.ID,
		&p.StrategyRunID,
		&p.Timestamp,
		&p.RealizedPnl,
		&p.UnrealizedPnl,
		&p.TotalPnl,
		&p.CapitalUsed,
		&p.OpenPositionsCount,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return p, nil
}
