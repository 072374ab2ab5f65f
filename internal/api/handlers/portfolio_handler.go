package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/service"
	"algopilot/pkg/utils"
)

// defaultPnlLimit - число срезов P&L в ответе по умолчанию
const defaultPnlLimit = 100

// PortfolioHandler отвечает за сделки, позиции и P&L
//
// Endpoints:
// - GET /api/v1/trades         - сделки (?strategy_run_id=&symbol=&is_completed=&limit=)
// - GET /api/v1/trades/{id}    - сделка
// - GET /api/v1/positions      - ненулевые позиции (?strategy_run_id=)
// - GET /api/v1/positions/{id} - позиция
// - GET /api/v1/runs/{id}/pnl  - срезы P&L запуска (?limit=)
// - POST /api/v1/runs/{id}/pnl - запись среза P&L
type PortfolioHandler struct {
	svc    PortfolioService
	logger *zap.Logger
}

// NewPortfolioHandler создает PortfolioHandler
func NewPortfolioHandler(svc PortfolioService, logger *zap.Logger) *PortfolioHandler {
	return &PortfolioHandler{svc: svc, logger: nopIfNil(logger)}
}

// ListTrades возвращает сделки
func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	runID, ok := queryInt(w, r, "strategy_run_id")
	if !ok {
		return
	}
	completed, ok := queryBool(w, r, "is_completed")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	f := models.TradeFilter{StrategyRunID: runID, IsCompleted: completed}
	if limit != nil {
		f.Limit = *limit
	}
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		f.Symbol = utils.NormalizeSymbol(symbol)
	}

	trades, err := h.svc.ListTrades(r.Context(), f)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, trades)
}

// GetTrade возвращает сделку
func (h *PortfolioHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trade, err := h.svc.GetTrade(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, trade)
}

// ListPositions возвращает ненулевые позиции
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	runID, ok := queryInt(w, r, "strategy_run_id")
	if !ok {
		return
	}
	positions, err := h.svc.ListPositions(r.Context(), runID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, positions)
}

// GetPosition возвращает позицию
func (h *PortfolioHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	position, err := h.svc.GetPosition(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, position)
}

// ListPnl возвращает срезы P&L запуска
func (h *PortfolioHandler) ListPnl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	n := defaultPnlLimit
	if limit != nil {
		n = *limit
	}
	snapshots, err := h.svc.ListPnl(r.Context(), id, n)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshots)
}

// RecordPnl записывает срез P&L
//
// Request Body:
//
//	{
//	  "realized_pnl": "1500.50",
//	  "unrealized_pnl": "-200",
//	  "capital_used": "250000",
//	  "open_positions_count": 2
//	}
func (h *PortfolioHandler) RecordPnl(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.RecordPnlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	snap, err := h.svc.RecordPnl(r.Context(), id, req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, snap)
}
