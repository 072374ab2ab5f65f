package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/strategy"
	"algopilot/pkg/utils"
)

// ErrStrategyInactive - запуск неактивной стратегии
var ErrStrategyInactive = errors.New("strategy is inactive")

// CreateStrategyRequest - данные новой стратегии.
// ConfigSchema хранит конфигурацию по умолчанию для запусков.
type CreateStrategyRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	StrategyCode string         `json:"strategy_code"`
	ConfigSchema models.JSONMap `json:"config_schema"`
	IsActive     *bool          `json:"is_active"`
}

// CreateRunRequest - данные нового запуска
type CreateRunRequest struct {
	BrokerAccountID *int               `json:"broker_account_id"`
	TradingMode     models.TradingMode `json:"trading_mode"`
	Config          models.JSONMap     `json:"config"`
	Start           bool               `json:"start"`
}

// StrategyService - стратегии и их запуски
type StrategyService struct {
	strategies StrategyRepositoryInterface
	runs       StrategyRunRepositoryInterface
	accounts   BrokerAccountRepositoryInterface
	registry   *strategy.Registry
	supervisor RunSupervisor
	logger     *zap.Logger
}

// NewStrategyService создает сервис стратегий
func NewStrategyService(
	strategies StrategyRepositoryInterface,
	runs StrategyRunRepositoryInterface,
	accounts BrokerAccountRepositoryInterface,
	registry *strategy.Registry,
	supervisor RunSupervisor,
	logger *zap.Logger,
) *StrategyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrategyService{
		strategies: strategies,
		runs:       runs,
		accounts:   accounts,
		registry:   registry,
		supervisor: supervisor,
		logger:     logger.With(utils.Component("strategy_service")),
	}
}

// ============ Стратегии ============

// CreateStrategy проверяет код по реестру и конфигурацию по реализации
func (s *StrategyService) CreateStrategy(ctx context.Context, req CreateStrategyRequest) (*models.Strategy, error) {
	var errs utils.ValidationErrors
	name := strings.TrimSpace(req.Name)
	code := strings.TrimSpace(req.StrategyCode)
	if name == "" {
		errs.Add("name", "is required")
	}
	if code == "" {
		errs.Add("strategy_code", "is required")
	} else if !s.registry.Has(code) {
		errs.Add("strategy_code", fmt.Sprintf("unknown strategy %q", code))
	} else if err := s.registry.Validate(code, req.ConfigSchema); err != nil {
		errs.Add("config_schema", err.Error())
	}
	if err := errs.OrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	st := &models.Strategy{
		Name:         name,
		Description:  req.Description,
		StrategyCode: code,
		ConfigSchema: req.ConfigSchema,
		IsActive:     req.IsActive == nil || *req.IsActive,
	}
	if err := s.strategies.Create(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("strategy created", zap.Int("strategy_id", st.ID), utils.StrategyName(code))
	return st, nil
}

// GetStrategy возвращает стратегию по ID
func (s *StrategyService) GetStrategy(ctx context.Context, id int) (*models.Strategy, error) {
	return s.strategies.GetByID(ctx, id)
}

// ListStrategies возвращает все стратегии
func (s *StrategyService) ListStrategies(ctx context.Context) ([]*models.Strategy, error) {
	return s.strategies.List(ctx)
}

// Implementations возвращает коды зарегистрированных реализаций
func (s *StrategyService) Implementations() []string {
	return s.registry.Codes()
}

// ============ Запуски ============

// CreateRun создаёт запуск в pending и, если запрошено, стартует его.
// Конфигурация запуска = config_schema стратегии, перекрытая req.Config.
func (s *StrategyService) CreateRun(ctx context.Context, strategyID int, req CreateRunRequest) (*models.StrategyRun, error) {
	st, err := s.strategies.GetByID(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if !st.IsActive {
		return nil, ErrStrategyInactive
	}

	mode := req.TradingMode
	if mode == "" {
		mode = models.TradingModePaper
	}

	var errs utils.ValidationErrors
	if !mode.Valid() {
		errs.Add("trading_mode", "must be paper or live")
	}
	if req.BrokerAccountID == nil {
		errs.Add("broker_account_id", "is required")
	}
	config := st.ConfigSchema.Clone()
	for k, v := range req.Config {
		config[k] = v
	}
	if err := s.registry.Validate(st.StrategyCode, config); err != nil {
		errs.Add("config", err.Error())
	}
	if err := errs.OrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if _, err := s.accounts.GetByID(ctx, *req.BrokerAccountID); err != nil {
		return nil, err
	}

	run := &models.StrategyRun{
		StrategyID:      strategyID,
		BrokerAccountID: req.BrokerAccountID,
		TradingMode:     mode,
		Config:          config,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	s.logger.Info("strategy run created",
		utils.StrategyRunID(run.ID),
		zap.Int("strategy_id", strategyID),
		zap.String("mode", string(mode)))

	if !req.Start {
		return run, nil
	}
	return s.StartRun(ctx, run.ID)
}

// GetRun возвращает запуск по ID
func (s *StrategyService) GetRun(ctx context.Context, id int) (*models.StrategyRun, error) {
	return s.runs.GetByID(ctx, id)
}

// ListRuns возвращает запуски, опционально по стратегии
func (s *StrategyService) ListRuns(ctx context.Context, strategyID *int) ([]*models.StrategyRun, error) {
	return s.runs.List(ctx, strategyID)
}

// StartRun запускает исполнение и возвращает обновлённый запуск
func (s *StrategyService) StartRun(ctx context.Context, id int) (*models.StrategyRun, error) {
	if err := s.supervisor.Start(ctx, id); err != nil {
		return nil, err
	}
	return s.runs.GetByID(ctx, id)
}

// StopRun останавливает исполнение и возвращает обновлённый запуск
func (s *StrategyService) StopRun(ctx context.Context, id int) (*models.StrategyRun, error) {
	if err := s.supervisor.Stop(ctx, id); err != nil {
		return nil, err
	}
	return s.runs.GetByID(ctx, id)
}

// SubmitCandle передаёт закрытую свечу в очередь запуска
func (s *StrategyService) SubmitCandle(ctx context.Context, id int, md strategy.MarketData) error {
	if md.Exchange == "" {
		md.Exchange = "NSE"
	}
	var errs utils.ValidationErrors
	errs.AddError("symbol", utils.ValidateSymbol(md.Symbol))
	errs.AddError("exchange", utils.ValidateExchange(md.Exchange))
	if !md.Close.IsPositive() {
		errs.Add("close", "must be positive")
	}
	if err := errs.OrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	md.Symbol = utils.NormalizeSymbol(md.Symbol)
	md.Exchange = utils.NormalizeExchange(md.Exchange)

	if _, err := s.runs.GetByID(ctx, id); err != nil {
		return err
	}
	return s.supervisor.ProcessCandleClose(id, md)
}
