package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"algopilot/internal/broker"
	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/internal/risk"
	"algopilot/internal/strategy"
	"algopilot/pkg/utils"
)

var (
	ErrInvalidIntent   = errors.New("invalid trade intent")
	ErrNoBrokerAccount = errors.New("strategy run has no broker account")
)

// Outcome - исход обработки намерения
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDenied   Outcome = "denied"
	OutcomeInvalid  Outcome = "invalid"
)

// ProcessResult - результат Process.
// При запрете Trade и Order пусты, Risk содержит причину.
type ProcessResult struct {
	Outcome Outcome
	Intent  strategy.TradeIntent
	Risk    risk.Result
	Trade   *models.Trade
	Order   *models.Order
}

// ProcessorConfig - параметры обработчика намерений
type ProcessorConfig struct {
	// SubmitTimeout ограничивает фоновую отправку ордера брокеру
	SubmitTimeout time.Duration
}

// DefaultProcessorConfig возвращает параметры по умолчанию
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{SubmitTimeout: 30 * time.Second}
}

// Processor превращает одобренное намерение в сделку и ордер.
//
// Порядок обработки:
// 1. Нормализация и проверка намерения
// 2. Риск-проверка (при запрете строк не создаётся, событие пишет риск-движок)
// 3. Атомарная вставка trade + order (pending)
// 4. Фоновая отправка ордера брокеру
//
// Отправка не связана с контекстом запуска: остановка стратегии
// не прерывает уже начатый вызов брокера.
type Processor struct {
	risk      RiskValidator
	execution ExecutionStore
	orders    OrderStore
	adapters  AdapterProvider
	notifier  Notifier
	logger    *zap.Logger
	cfg       ProcessorConfig
	now       func() time.Time

	wg sync.WaitGroup
}

// NewProcessor создаёт обработчик намерений
func NewProcessor(
	riskValidator RiskValidator,
	execution ExecutionStore,
	orders OrderStore,
	adapters AdapterProvider,
	notifier Notifier,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *Processor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultProcessorConfig().SubmitTimeout
	}
	return &Processor{
		risk:      riskValidator,
		execution: execution,
		orders:    orders,
		adapters:  adapters,
		notifier:  notifier,
		logger:    logger.With(utils.Component("intent_processor")),
		cfg:       cfg,
		now:       time.Now,
	}
}

var _ IntentProcessor = (*Processor)(nil)

// Process обрабатывает одно намерение запуска run.
// Ошибка означает сбой хранилища или некорректное намерение (ErrInvalidIntent);
// запрет риском возвращается как OutcomeDenied без ошибки.
func (p *Processor) Process(ctx context.Context, run *models.StrategyRun, intent strategy.TradeIntent) (*ProcessResult, error) {
	start := time.Now()
	intent = intent.WithDefaults()

	if err := intent.Validate(); err != nil {
		RecordIntent(run.TradingMode, OutcomeInvalid)
		return &ProcessResult{Outcome: OutcomeInvalid, Intent: intent}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if run.BrokerAccountID == nil {
		return nil, ErrNoBrokerAccount
	}

	log := p.logger.With(
		utils.StrategyRunID(run.ID),
		utils.Symbol(intent.Symbol),
		utils.Side(string(intent.Side)),
		utils.Quantity(intent.Quantity),
	)

	runID := run.ID
	decision, err := p.risk.Validate(ctx, risk.Request{
		Symbol:      intent.Symbol,
		Exchange:    intent.Exchange,
		Side:        intent.Side,
		Quantity:    intent.Quantity,
		Price:       intent.IntendedPrice,
		OrderType:   intent.OrderType,
		ProductType: intent.ProductType,
		Mode:        run.TradingMode,
	}, &runID, run.BrokerAccountID)
	if err != nil {
		return nil, fmt.Errorf("risk validation: %w", err)
	}

	if !decision.Allowed {
		log.Info("trade intent denied by risk",
			zap.String("event_type", string(decision.EventType)),
			zap.String("reason", decision.Message))
		p.notifier.BroadcastRiskEvent(&models.RiskEvent{
			StrategyRunID:   &runID,
			BrokerAccountID: run.BrokerAccountID,
			EventType:       decision.EventType,
			Message:         decision.Message,
			Metadata:        decision.Metadata,
			WasBlocked:      true,
			CreatedAt:       p.now(),
		})
		RecordIntent(run.TradingMode, OutcomeDenied)
		return &ProcessResult{Outcome: OutcomeDenied, Intent: intent, Risk: decision}, nil
	}

	trade, order := p.buildExecution(run, intent)
	if err := p.execution.CreateTradeWithOrder(ctx, trade, order); err != nil {
		return nil, fmt.Errorf("create trade with order: %w", err)
	}

	log.Info("order created",
		utils.TradeID(trade.ID),
		utils.OrderID(order.ID),
		zap.String("order_type", string(order.OrderType)))
	p.notifier.BroadcastOrderUpdate(order)

	RecordIntent(run.TradingMode, OutcomeAccepted)
	RecordIntentLatency(run.TradingMode, utils.SinceMs(start))

	p.dispatch(order.ID, run.TradingMode)

	return &ProcessResult{
		Outcome: OutcomeAccepted,
		Intent:  intent,
		Risk:    decision,
		Trade:   trade,
		Order:   order,
	}, nil
}

// buildExecution строит сделку и первый ордер по намерению
func (p *Processor) buildExecution(run *models.StrategyRun, intent strategy.TradeIntent) (*models.Trade, *models.Order) {
	now := p.now()
	runID := run.ID

	trade := &models.Trade{
		StrategyRunID: run.ID,
		Symbol:        intent.Symbol,
		Exchange:      intent.Exchange,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		IntendedPrice: intent.IntendedPrice,
		ProductType:   intent.ProductType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	order := &models.Order{
		BrokerAccountID: *run.BrokerAccountID,
		StrategyRunID:   &runID,
		Symbol:          intent.Symbol,
		Exchange:        intent.Exchange,
		OrderType:       intent.OrderType,
		ProductType:     intent.ProductType,
		Side:            intent.Side,
		Quantity:        intent.Quantity,
		Status:          models.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// рыночная заявка уходит без цены
	if intent.OrderType != models.OrderTypeMarket {
		order.Price = intent.IntendedPrice
	}
	return trade, order
}

// dispatch запускает отправку ордера в отдельной горутине
func (p *Processor) dispatch(orderID int, mode models.TradingMode) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SubmitTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic in order submission",
					utils.OrderID(orderID),
					zap.Any("panic", r),
					zap.Stack("stack"))
				p.markRejected(ctx, orderID, fmt.Sprintf("internal error: %v", r))
			}
		}()

		if _, err := p.SubmitOrder(ctx, orderID, mode); err != nil {
			p.logger.Error("order submission failed", utils.OrderID(orderID), zap.Error(err))
		}
	}()
}

// Wait ждёт завершения начатых отправок (остановка сервера, тесты)
func (p *Processor) Wait() {
	p.wg.Wait()
}

// SubmitOrder отправляет pending-ордер брокеру.
//
// Исходы:
// - брокер принял: submitted + broker_order_id
// - брокер отказал или недоступен: rejected с текстом ошибки
// - ордер уже не pending: ничего не делает
//
// Ошибка возвращается только при сбое хранилища.
func (p *Processor) SubmitOrder(ctx context.Context, orderID int, mode models.TradingMode) (*models.Order, error) {
	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order.Status != models.OrderStatusPending {
		return order, nil
	}

	log := p.logger.With(utils.OrderID(order.ID), utils.Symbol(order.Symbol))

	adapter, err := p.adapters.AdapterFor(ctx, order.BrokerAccountID, mode)
	if err != nil {
		log.Warn("broker adapter unavailable", zap.Error(err))
		return p.reject(ctx, order, fmt.Sprintf("broker unavailable: %v", err))
	}

	start := time.Now()
	placed, err := adapter.PlaceOrder(ctx, broker.OrderRequestFromOrder(order))
	ms := utils.SinceMs(start)
	if err != nil {
		RecordSubmission(adapter.Name(), "rejected", ms)
		log.Warn("order rejected by broker", utils.Broker(adapter.Name()), zap.Error(err))
		return p.reject(ctx, order, err.Error())
	}

	now := p.now()
	if err := p.orders.MarkSubmitted(persistCtx(ctx), order.ID, placed.BrokerOrderID, placed.Raw, now); err != nil {
		// брокер принял ордер, а запись не удалась: нужна сверка
		RecordSubmission(adapter.Name(), "record_failed", ms)
		log.Error("order accepted by broker but not recorded",
			utils.BrokerOrderID(placed.BrokerOrderID),
			zap.Error(err))
		return nil, fmt.Errorf("mark order %d submitted: %w", order.ID, err)
	}

	order.Status = models.OrderStatusSubmitted
	order.BrokerOrderID = &placed.BrokerOrderID
	order.BrokerResponse = placed.Raw
	order.SubmittedAt = &now
	order.UpdatedAt = now

	RecordSubmission(adapter.Name(), "submitted", ms)
	log.Info("order submitted",
		utils.Broker(adapter.Name()),
		utils.BrokerOrderID(placed.BrokerOrderID),
		utils.Latency(ms))
	p.notifier.BroadcastOrderUpdate(order)
	return order, nil
}

func (p *Processor) reject(ctx context.Context, order *models.Order, message string) (*models.Order, error) {
	now := p.now()
	err := p.orders.MarkRejected(persistCtx(ctx), order.ID, message, now)
	if errors.Is(err, repository.ErrOrderStatusConflict) {
		// ордер уже обработан другим вызовом
		return order, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark order %d rejected: %w", order.ID, err)
	}

	order.Status = models.OrderStatusRejected
	order.ErrorMessage = message
	order.UpdatedAt = now
	p.notifier.BroadcastOrderUpdate(order)
	return order, nil
}

func (p *Processor) markRejected(ctx context.Context, orderID int, message string) {
	err := p.orders.MarkRejected(persistCtx(ctx), orderID, message, p.now())
	if err != nil && !errors.Is(err, repository.ErrOrderStatusConflict) {
		p.logger.Error("failed to reject order", utils.OrderID(orderID), zap.Error(err))
	}
}

// persistCtx отделяет запись результата от истёкшего таймаута вызова брокера
func persistCtx(ctx context.Context) context.Context {
	if ctx.Err() == nil {
		return ctx
	}
	return context.WithoutCancel(ctx)
}
