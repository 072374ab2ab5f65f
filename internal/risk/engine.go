// Package risk - проверка намерений стратегии до создания ордера.
//
// Engine прогоняет упорядоченную цепочку правил. Первое запретившее правило
// останавливает проверку, его результат возвращается и пишется в risk_events.
// Правило без нужного контекста (нет запуска, счёта или цены) пропускает заявку.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

// Request - данные заявки для проверки
type Request struct {
	Symbol      string
	Exchange    string
	Side        models.Side
	Quantity    int
	Price       decimal.NullDecimal // пусто для рыночной заявки
	OrderType   models.OrderType
	ProductType models.ProductType
	Mode        models.TradingMode
}

// Input - всё, что получает правило
type Input struct {
	Request
	StrategyRunID   *int
	BrokerAccountID *int
	Now             time.Time
}

// Result - решение правила или движка.
// Запрет не ошибка: это обычный отрицательный ответ.
type Result struct {
	Allowed   bool
	EventType models.RiskEventType
	Message   string
	Metadata  models.JSONMap

	// Skipped - причина, по которой правило не смогло проверить заявку
	Skipped string
}

// Allow - разрешающий результат
func Allow() Result { return Result{Allowed: true} }

// Skip - правило не применимо из-за нехватки данных, заявка пропускается
func Skip(reason string) Result { return Result{Allowed: true, Skipped: reason} }

// Deny - запрещающий результат
func Deny(eventType models.RiskEventType, message string, metadata models.JSONMap) Result {
	return Result{Allowed: false, EventType: eventType, Message: message, Metadata: metadata}
}

// Rule - одно правило без состояния
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// EventStore - журнал риск-событий
type EventStore interface {
	Create(ctx context.Context, e *models.RiskEvent) error
}

// Engine - цепочка правил
type Engine struct {
	rules  []Rule
	events EventStore
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine создаёт движок. Порядок rules - порядок проверки.
func NewEngine(rules []Rule, events EventStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:  rules,
		events: events,
		logger: logger.With(utils.Component("risk")),
		now:    time.Now,
	}
}

// Rules возвращает имена правил в порядке проверки
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Validate проверяет заявку.
//
// 1. Правила вызываются по порядку, ошибка данных или пропуск логируются и не блокируют
// 2. Первый запрет прерывает цепочку
// 3. Запрет сохраняется как RiskEvent с was_blocked=true
//
// Ошибка возвращается только если не удалось сохранить RiskEvent.
func (e *Engine) Validate(ctx context.Context, req Request, strategyRunID, brokerAccountID *int) (Result, error) {
	in := Input{
		Request:         req,
		StrategyRunID:   strategyRunID,
		BrokerAccountID: brokerAccountID,
		Now:             e.now(),
	}

	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			e.logger.Warn("risk rule evaluation degraded",
				utils.RiskRule(rule.Name()),
				utils.Symbol(req.Symbol),
				zap.Error(err))
			RecordDegraded(rule.Name(), "lookup_error")
			continue
		}
		if res.Skipped != "" {
			e.logger.Warn("risk rule skipped",
				utils.RiskRule(rule.Name()),
				utils.Symbol(req.Symbol),
				zap.String("reason", res.Skipped))
			RecordDegraded(rule.Name(), "missing_context")
			continue
		}
		if res.Allowed {
			RecordDecision(rule.Name(), true)
			continue
		}

		RecordDecision(rule.Name(), false)
		e.logger.Info("trade intent blocked",
			utils.RiskRule(rule.Name()),
			utils.Symbol(req.Symbol),
			zap.String("message", res.Message))

		if err := e.record(ctx, res, strategyRunID, brokerAccountID); err != nil {
			return res, err
		}
		return res, nil
	}

	return Allow(), nil
}

func (e *Engine) record(ctx context.Context, res Result, strategyRunID, brokerAccountID *int) error {
	if e.events == nil {
		return nil
	}
	msg := res.Message
	if msg == "" {
		msg = "Risk rule violation"
	}
	event := &models.RiskEvent{
		StrategyRunID:   strategyRunID,
		BrokerAccountID: brokerAccountID,
		EventType:       res.EventType,
		Message:         msg,
		Metadata:        res.Metadata,
		WasBlocked:      true,
		CreatedAt:       e.now(),
	}
	if err := e.events.Create(ctx, event); err != nil {
		return fmt.Errorf("record risk event: %w", err)
	}
	return nil
}
