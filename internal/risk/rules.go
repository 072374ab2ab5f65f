package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/pkg/utils"
)

// Имена правил, они же метки метрик
const (
	RuleMaxDailyLoss      = "max_daily_loss"
	RuleMaxOpenPositions  = "max_open_positions"
	RuleCapitalAllocation = "capital_allocation"
	RulePerStrategyLimit  = "per_strategy_capital"
)

// SnapshotReader - последний P&L срез запуска
type SnapshotReader interface {
	LatestSince(ctx context.Context, strategyRunID int, since time.Time) (*models.PnlSnapshot, error)
}

// PositionCounter - число открытых позиций счёта
type PositionCounter interface {
	CountOpen(ctx context.Context, brokerAccountID int) (int, error)
}

// CapitalSource - средства счёта у брокера (или paper-симуляции)
type CapitalSource interface {
	AccountBalance(ctx context.Context, brokerAccountID int, mode models.TradingMode) (*broker.Balance, error)
}

// Limits - пороги правил
type Limits struct {
	MaxDailyLossPercent          float64 `yaml:"max_daily_loss_percent" json:"max_daily_loss_percent"`
	MaxOpenPositions             int     `yaml:"max_open_positions" json:"max_open_positions"`
	MaxCapitalPerOrderPercent    float64 `yaml:"max_capital_per_order_percent" json:"max_capital_per_order_percent"`
	MaxCapitalPerStrategyPercent float64 `yaml:"max_capital_per_strategy_percent" json:"max_capital_per_strategy_percent"`
}

// DefaultLimits: 5% дневного убытка, 10 позиций, 10% на заявку, 30% на стратегию
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLossPercent:          5,
		MaxOpenPositions:             10,
		MaxCapitalPerOrderPercent:    10,
		MaxCapitalPerStrategyPercent: 30,
	}
}

// DefaultRules собирает цепочку в стандартном порядке
func DefaultRules(limits Limits, snapshots SnapshotReader, positions PositionCounter, capital CapitalSource) []Rule {
	return []Rule{
		&MaxDailyLossRule{MaxLossPercent: limits.MaxDailyLossPercent, Snapshots: snapshots},
		&MaxOpenPositionsRule{MaxPositions: limits.MaxOpenPositions, Positions: positions},
		&CapitalAllocationRule{MaxOrderPercent: limits.MaxCapitalPerOrderPercent, Capital: capital},
		&PerStrategyCapitalRule{MaxStrategyPercent: limits.MaxCapitalPerStrategyPercent, Snapshots: snapshots, Capital: capital},
	}
}

// ============================================================
// Дневной убыток
// ============================================================

// MaxDailyLossRule запрещает торговлю, если убыток по последнему срезу
// за сегодня |total_pnl| / capital_used * 100 >= MaxLossPercent
type MaxDailyLossRule struct {
	MaxLossPercent float64
	Snapshots      SnapshotReader
}

func (r *MaxDailyLossRule) Name() string { return RuleMaxDailyLoss }

func (r *MaxDailyLossRule) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.StrategyRunID == nil {
		return Skip("no strategy run"), nil
	}

	snap, err := r.Snapshots.LatestSince(ctx, *in.StrategyRunID, utils.GetDayStartFrom(in.Now))
	if errors.Is(err, repository.ErrPnlSnapshotNotFound) {
		return Allow(), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("latest pnl snapshot: %w", err)
	}

	if !snap.TotalPnl.IsNegative() {
		return Allow(), nil
	}
	lossPercent, ok := utils.PercentOf(snap.TotalPnl.Abs(), snap.CapitalUsed)
	if !ok {
		return Skip("capital_used is not positive"), nil
	}

	limit := decimal.NewFromFloat(r.MaxLossPercent)
	if lossPercent.LessThan(limit) {
		return Allow(), nil
	}

	return Deny(models.RiskMaxDailyLoss,
		fmt.Sprintf("Daily loss limit exceeded: %s%% >= %s%%", lossPercent.StringFixed(2), formatPercent(r.MaxLossPercent)),
		models.JSONMap{
			"current_loss_percent": lossPercent.Round(4).InexactFloat64(),
			"max_allowed":          r.MaxLossPercent,
			"total_pnl":            snap.TotalPnl.InexactFloat64(),
		}), nil
}

// ============================================================
// Открытые позиции
// ============================================================

// MaxOpenPositionsRule запрещает заявку, если у счёта уже MaxPositions ненулевых позиций
type MaxOpenPositionsRule struct {
	MaxPositions int
	Positions    PositionCounter
}

func (r *MaxOpenPositionsRule) Name() string { return RuleMaxOpenPositions }

func (r *MaxOpenPositionsRule) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.BrokerAccountID == nil {
		return Skip("no broker account"), nil
	}

	count, err := r.Positions.CountOpen(ctx, *in.BrokerAccountID)
	if err != nil {
		return Result{}, fmt.Errorf("count open positions: %w", err)
	}
	if count < r.MaxPositions {
		return Allow(), nil
	}

	return Deny(models.RiskMaxOpenPositions,
		fmt.Sprintf("Maximum open positions limit exceeded: %d >= %d", count, r.MaxPositions),
		models.JSONMap{
			"current_positions": count,
			"max_allowed":       r.MaxPositions,
		}), nil
}

// ============================================================
// Капитал на заявку
// ============================================================

// CapitalAllocationRule запрещает заявку дороже MaxOrderPercent доступного баланса.
// Рыночная заявка без цены не проверяется.
type CapitalAllocationRule struct {
	MaxOrderPercent float64
	Capital         CapitalSource
}

func (r *CapitalAllocationRule) Name() string { return RuleCapitalAllocation }

func (r *CapitalAllocationRule) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.BrokerAccountID == nil {
		return Skip("no broker account"), nil
	}
	if !in.Price.Valid {
		return Skip("no price for market order"), nil
	}

	bal, err := r.Capital.AccountBalance(ctx, *in.BrokerAccountID, in.Mode)
	if err != nil {
		return Result{}, fmt.Errorf("account balance: %w", err)
	}

	orderValue := utils.Notional(in.Price.Decimal, in.Quantity)
	percent, ok := utils.PercentOf(orderValue, bal.AvailableBalance)
	meta := models.JSONMap{
		"order_value":       orderValue.InexactFloat64(),
		"available_balance": bal.AvailableBalance.InexactFloat64(),
		"max_allowed":       r.MaxOrderPercent,
	}
	if !ok {
		return Deny(models.RiskCapitalLimit, "No available capital for order", meta), nil
	}
	if percent.LessThanOrEqual(decimal.NewFromFloat(r.MaxOrderPercent)) {
		return Allow(), nil
	}

	meta["order_percent"] = percent.Round(4).InexactFloat64()
	return Deny(models.RiskCapitalLimit,
		fmt.Sprintf("Order value exceeds capital allocation limit: %s%% > %s%%", percent.StringFixed(2), formatPercent(r.MaxOrderPercent)),
		meta), nil
}

// ============================================================
// Капитал на стратегию
// ============================================================

// PerStrategyCapitalRule ограничивает долю капитала счёта, занятую одним запуском:
// (capital_used последнего среза + стоимость заявки) / (available + used_margin) * 100
type PerStrategyCapitalRule struct {
	MaxStrategyPercent float64
	Snapshots          SnapshotReader
	Capital            CapitalSource
}

func (r *PerStrategyCapitalRule) Name() string { return RulePerStrategyLimit }

func (r *PerStrategyCapitalRule) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.StrategyRunID == nil || in.BrokerAccountID == nil {
		return Skip("no strategy run or broker account"), nil
	}
	if !in.Price.Valid {
		return Skip("no price for market order"), nil
	}

	used := decimal.Zero
	snap, err := r.Snapshots.LatestSince(ctx, *in.StrategyRunID, time.Time{})
	switch {
	case errors.Is(err, repository.ErrPnlSnapshotNotFound):
	case err != nil:
		return Result{}, fmt.Errorf("latest pnl snapshot: %w", err)
	default:
		used = snap.CapitalUsed
	}

	bal, err := r.Capital.AccountBalance(ctx, *in.BrokerAccountID, in.Mode)
	if err != nil {
		return Result{}, fmt.Errorf("account balance: %w", err)
	}

	total := bal.AvailableBalance.Add(bal.UsedMargin)
	committed := used.Add(utils.Notional(in.Price.Decimal, in.Quantity))
	percent, ok := utils.PercentOf(committed, total)
	meta := models.JSONMap{
		"strategy_capital": committed.InexactFloat64(),
		"account_capital":  total.InexactFloat64(),
		"max_allowed":      r.MaxStrategyPercent,
	}
	if !ok {
		return Deny(models.RiskPerStrategyLimit, "No account capital for strategy", meta), nil
	}
	if percent.LessThanOrEqual(decimal.NewFromFloat(r.MaxStrategyPercent)) {
		return Allow(), nil
	}

	meta["strategy_percent"] = percent.Round(4).InexactFloat64()
	return Deny(models.RiskPerStrategyLimit,
		fmt.Sprintf("Strategy capital limit exceeded: %s%% > %s%%", percent.StringFixed(2), formatPercent(r.MaxStrategyPercent)),
		meta), nil
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
