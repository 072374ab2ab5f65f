package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"algopilot/internal/models"
)

// Ошибки репозитория запусков
var (
	ErrStrategyRunNotFound = errors.New("strategy run not found")
	ErrRunStatusConflict   = errors.New("strategy run is not in the expected status")
)

const runColumns = `id, strategy_id, broker_account_id, trading_mode, status, config, started_at, stopped_at, error_message, created_at, updated_at`

// StrategyRunRepository - работа с таблицей strategy_runs
type StrategyRunRepository struct {
	db *sql.DB
}

// NewStrategyRunRepository создает новый экземпляр репозитория
func NewStrategyRunRepository(db *sql.DB) *StrategyRunRepository {
	return &StrategyRunRepository{db: db}
}

// Create создаёт запуск в статусе pending
func (r *StrategyRunRepository) Create(ctx context.Context, run *models.StrategyRun) error {
	now := time.Now()
	run.Status = models.RunStatusPending
	run.CreatedAt = now
	run.UpdatedAt = now

	return r.db.QueryRowContext(ctx, `
		INSERT INTO strategy_runs (strategy_id, broker_account_id, trading_mode, status, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		run.StrategyID, run.BrokerAccountID, run.TradingMode, run.Status, run.Config, run.CreatedAt, run.UpdatedAt,
	).Scan(&run.ID)
}

// GetByID возвращает запуск по ID
func (r *StrategyRunRepository) GetByID(ctx context.Context, id int) (*models.StrategyRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM strategy_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStrategyRunNotFound
	}
	return run, err
}

// List возвращает запуски, новые первыми. strategyID = nil - все.
func (r *StrategyRunRepository) List(ctx context.Context, strategyID *int) ([]*models.StrategyRun, error) {
	query := `SELECT ` + runColumns + ` FROM strategy_runs`
	var args []interface{}
	if strategyID != nil {
		query += ` WHERE strategy_id = $1`
		args = append(args, *strategyID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.StrategyRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunning переводит pending -> running
func (r *StrategyRunRepository) MarkRunning(ctx context.Context, id int, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE strategy_runs SET status = $1, started_at = $2, error_message = '', updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.RunStatusRunning, at, id, models.RunStatusPending)
	if err != nil {
		return err
	}
	return rowsAffected(result, ErrRunStatusConflict)
}

// MarkStopped фиксирует остановку
func (r *StrategyRunRepository) MarkStopped(ctx context.Context, id int, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE strategy_runs SET status = $1, stopped_at = $2, updated_at = $2
		WHERE id = $3`,
		models.RunStatusStopped, at, id)
	if err != nil {
		return err
	}
	return rowsAffected(result, ErrStrategyRunNotFound)
}

// MarkError фиксирует аварийное завершение
func (r *StrategyRunRepository) MarkError(ctx context.Context, id int, message string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE strategy_runs SET status = $1, error_message = $2, stopped_at = $3, updated_at = $3
		WHERE id = $4`,
		models.RunStatusError, message, at, id)
	if err != nil {
		return err
	}
	return rowsAffected(result, ErrStrategyRunNotFound)
}

func scanRun(s rowScanner) (*models.StrategyRun, error) {
	run := &models.StrategyRun{}
	if err := s.Scan(
		&run.ID,
		&run.StrategyID,
		&run.BrokerAccountID,
		&run.TradingMode,
		&run.Status,
		&run.Config,
		&run.StartedAt,
		&run.StoppedAt,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return run, nil
}
