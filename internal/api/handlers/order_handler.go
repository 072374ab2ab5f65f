package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/pkg/utils"
)

// OrderHandler отвечает за ордера
//
// Endpoints:
// - GET /api/v1/orders             - ордера (?strategy_run_id=&status=&symbol=&limit=)
// - GET /api/v1/orders/{id}        - ордер
// - POST /api/v1/orders/{id}/cancel - отмена открытого ордера у брокера
type OrderHandler struct {
	svc    OrderService
	logger *zap.Logger
}

// NewOrderHandler создает OrderHandler
func NewOrderHandler(svc OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: nopIfNil(logger)}
}

// ListOrders возвращает ордера, новые первыми
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	runID, ok := queryInt(w, r, "strategy_run_id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	f := models.OrderFilter{StrategyRunID: runID}
	if limit != nil {
		f.Limit = *limit
	}
	if status := models.OrderStatus(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			respondWithError(w, http.StatusBadRequest, "invalid_query", "invalid status", string(status))
			return
		}
		f.Status = status
	}
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		f.Symbol = utils.NormalizeSymbol(symbol)
	}

	orders, err := h.svc.ListOrders(r.Context(), f)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

// GetOrder возвращает ордер
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

// CancelOrder отменяет ордер
//
// Response:
// - 200 OK: ордер отменён
// - 409 Conflict: ордер уже конечный или ещё не принят брокером
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.svc.CancelOrder(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}
