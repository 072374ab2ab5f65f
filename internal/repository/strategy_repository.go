package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"algopilot/internal/models"
)

// Ошибки репозитория стратегий
var (
	ErrStrategyNotFound = errors.New("strategy not found")
	ErrStrategyExists   = errors.New("strategy with this name already exists")
)

const strategyColumns = `id, name, description, strategy_code, config_schema, is_active, created_at, updated_at`

// StrategyRepository - работа с таблицей strategies
type StrategyRepository struct {
	db *sql.DB
}

// NewStrategyRepository создает новый экземпляр репозитория
func NewStrategyRepository(db *sql.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// Create сохраняет стратегию
func (r *StrategyRepository) Create(ctx context.Context, s *models.Strategy) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO strategies (name, description, strategy_code, config_schema, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		s.Name, s.Description, s.StrategyCode, s.ConfigSchema, s.IsActive, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
	if isUniqueViolation(err) {
		return ErrStrategyExists
	}
	return err
}

// GetByID возвращает стратегию по ID
func (r *StrategyRepository) GetByID(ctx context.Context, id int) (*models.Strategy, error) {
	s, err := scanStrategy(r.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStrategyNotFound
	}
	return s, err
}

// List возвращает все стратегии
func (r *StrategyRepository) List(ctx context.Context) ([]*models.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func scanStrategy(s rowScanner) (*models.Strategy, error) {
	st := &models.Strategy{}
	if err := s.Scan(
		&st.ID,
		&st.Name,
		&st.Description,
		&st.StrategyCode,
		&st.ConfigSchema,
		&st.IsActive,
		&st.CreatedAt,
		&st.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return st, nil
}
