package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

// RecordPnlRequest - срез P&L запуска
type RecordPnlRequest struct {
	Timestamp          *time.Time      `json:"timestamp"`
	RealizedPnl        decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl      decimal.Decimal `json:"unrealized_pnl"`
	CapitalUsed        decimal.Decimal `json:"capital_used"`
	OpenPositionsCount int             `json:"open_positions_count"`
}

// PortfolioService - сделки, позиции и P&L
type PortfolioService struct {
	trades    TradeRepositoryInterface
	positions PositionRepositoryInterface
	pnl       PnlRepositoryInterface
	runs      StrategyRunRepositoryInterface
}

// NewPortfolioService создает сервис портфеля
func NewPortfolioService(
	trades TradeRepositoryInterface,
	positions PositionRepositoryInterface,
	pnl PnlRepositoryInterface,
	runs StrategyRunRepositoryInterface,
) *PortfolioService {
	return &PortfolioService{trades: trades, positions: positions, pnl: pnl, runs: runs}
}

// ListTrades возвращает сделки по фильтру
func (s *PortfolioService) ListTrades(ctx context.Context, f models.TradeFilter) ([]*models.Trade, error) {
	return s.trades.List(ctx, f)
}

// GetTrade возвращает сделку по ID
func (s *PortfolioService) GetTrade(ctx context.Context, id int) (*models.Trade, error) {
	return s.trades.GetByID(ctx, id)
}

// ListPositions возвращает ненулевые позиции
func (s *PortfolioService) ListPositions(ctx context.Context, strategyRunID *int) ([]*models.Position, error) {
	return s.positions.ListOpen(ctx, strategyRunID)
}

// GetPosition возвращает позицию по ID
func (s *PortfolioService) GetPosition(ctx context.Context, id int) (*models.Position, error) {
	return s.positions.GetByID(ctx, id)
}

// ListPnl возвращает срезы P&L запуска, новые первыми
func (s *PortfolioService) ListPnl(ctx context.Context, strategyRunID, limit int) ([]*models.PnlSnapshot, error) {
	if _, err := s.runs.GetByID(ctx, strategyRunID); err != nil {
		return nil, err
	}
	return s.pnl.List(ctx, strategyRunID, limit)
}

// RecordPnl сохраняет срез; total_pnl = realized + unrealized
func (s *PortfolioService) RecordPnl(ctx context.Context, strategyRunID int, req RecordPnlRequest) (*models.PnlSnapshot, error) {
	var errs utils.ValidationErrors
	if req.CapitalUsed.IsNegative() {
		errs.Add("capital_used", "must not be negative")
	}
	if req.OpenPositionsCount < 0 {
		errs.Add("open_positions_count", "must not be negative")
	}
	if err := errs.OrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.runs.GetByID(ctx, strategyRunID); err != nil {
		return nil, err
	}

	snap := &models.PnlSnapshot{
		StrategyRunID:      strategyRunID,
		RealizedPnl:        req.RealizedPnl,
		UnrealizedPnl:      req.UnrealizedPnl,
		TotalPnl:           req.RealizedPnl.Add(req.UnrealizedPnl),
		CapitalUsed:        req.CapitalUsed,
		OpenPositionsCount: req.OpenPositionsCount,
	}
	if req.Timestamp != nil {
		snap.Timestamp = req.Timestamp.UTC()
	}
	if err := s.pnl.Create(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
