package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/risk"
)

// RiskHandler отвечает за журнал риск-событий
//
// Endpoints:
// - GET /api/v1/risk-events       - события (?strategy_run_id=&broker_account_id=&limit=)
// - GET /api/v1/risk-events/stats - агрегаты за текущий день UTC
// - GET /api/v1/risk/limits       - действующие лимиты и порядок правил
type RiskHandler struct {
	svc    RiskService
	logger *zap.Logger
}

// NewRiskHandler создает RiskHandler
func NewRiskHandler(svc RiskService, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{svc: svc, logger: nopIfNil(logger)}
}

// LimitsResponse - ответ GET /risk/limits
type LimitsResponse struct {
	Limits risk.Limits `json:"limits"`
	Rules  []string    `json:"rules"`
}

// ListEvents возвращает риск-события, новые первыми
func (h *RiskHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := queryInt(w, r, "strategy_run_id")
	if !ok {
		return
	}
	accountID, ok := queryInt(w, r, "broker_account_id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	f := models.RiskEventFilter{StrategyRunID: runID, BrokerAccountID: accountID}
	if limit != nil {
		f.Limit = *limit
	}
	events, err := h.svc.ListEvents(r.Context(), f)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}

// Stats возвращает агрегаты за день
func (h *RiskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.TodayStats(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// Limits возвращает действующие лимиты
func (h *RiskHandler) Limits(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, LimitsResponse{Limits: h.svc.Limits(), Rules: h.svc.Rules()})
}
