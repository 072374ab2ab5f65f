package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/service"
	"algopilot/internal/strategy"
)

// StrategyHandler отвечает за стратегии и их запуски
//
// Endpoints:
// - GET /api/v1/strategies                 - список стратегий
// - POST /api/v1/strategies                - создание стратегии
// - GET /api/v1/strategies/implementations - коды реализаций
// - GET /api/v1/strategies/{id}            - стратегия
// - POST /api/v1/strategies/{id}/runs      - создание запуска (по умолчанию сразу стартует)
// - GET /api/v1/runs                       - запуски (?strategy_id=)
// - GET /api/v1/runs/{id}                  - запуск
// - POST /api/v1/runs/{id}/start           - старт
// - POST /api/v1/runs/{id}/stop            - остановка
// - POST /api/v1/runs/{id}/candles         - закрытая свеча в очередь запуска
type StrategyHandler struct {
	svc    StrategyService
	logger *zap.Logger
}

// NewStrategyHandler создает StrategyHandler
func NewStrategyHandler(svc StrategyService, logger *zap.Logger) *StrategyHandler {
	return &StrategyHandler{svc: svc, logger: nopIfNil(logger)}
}

// CreateRunRequest - тело POST /strategies/{id}/runs.
// start не указан - запуск стартует сразу.
type CreateRunRequest struct {
	BrokerAccountID *int               `json:"broker_account_id"`
	TradingMode     models.TradingMode `json:"trading_mode"`
	Config          models.JSONMap     `json:"config"`
	Start           *bool              `json:"start"`
}

// ListStrategies возвращает все стратегии
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListStrategies(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

// CreateStrategy создаёт стратегию
func (h *StrategyHandler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req service.CreateStrategyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.CreateStrategy(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, st)
}

// GetStrategy возвращает стратегию
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.GetStrategy(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, st)
}

// Implementations возвращает коды зарегистрированных реализаций
func (h *StrategyHandler) Implementations(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string][]string{"implementations": h.svc.Implementations()})
}

// CreateRun создаёт запуск стратегии
func (h *StrategyHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CreateRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	run, err := h.svc.CreateRun(r.Context(), id, service.CreateRunRequest{
		BrokerAccountID: req.BrokerAccountID,
		TradingMode:     req.TradingMode,
		Config:          req.Config,
		Start:           req.Start == nil || *req.Start,
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, run)
}

// ListRuns возвращает запуски
func (h *StrategyHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	strategyID, ok := queryInt(w, r, "strategy_id")
	if !ok {
		return
	}
	runs, err := h.svc.ListRuns(r.Context(), strategyID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}

// GetRun возвращает запуск
func (h *StrategyHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

// StartRun стартует pending-запуск
func (h *StrategyHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.StartRun)
}

// StopRun останавливает запуск
func (h *StrategyHandler) StopRun(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.StopRun)
}

func (h *StrategyHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int) (*models.StrategyRun, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	run, err := op(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

// SubmitCandle ставит закрытую свечу в очередь запуска
//
// Request Body:
//
//	{
//	  "symbol": "TCS",
//	  "exchange": "NSE",
//	  "timestamp": "2026-03-02T09:20:00Z",
//	  "close": "3512.40",
//	  "indicators": {"sma_10": 3505.1, "sma_20": 3498.7}
//	}
//
// Response:
// - 202 Accepted: свеча в очереди
// - 409 Conflict: запуск не исполняется
// - 503 Service Unavailable: очередь запуска переполнена
func (h *StrategyHandler) SubmitCandle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var md strategy.MarketData
	if !decodeJSON(w, r, &md) {
		return
	}
	if err := h.svc.SubmitCandle(r.Context(), id, md); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
