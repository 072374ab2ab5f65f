package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/service"
)

// BrokerHandler отвечает за брокерские счета
//
// Endpoints:
// - GET /api/v1/broker-accounts              - список счетов
// - POST /api/v1/broker-accounts             - привязка счёта
// - GET /api/v1/broker-accounts/{id}         - счёт
// - DELETE /api/v1/broker-accounts/{id}      - удаление (409 если есть ордера)
// - GET /api/v1/broker-accounts/{id}/balance - баланс (?mode=paper|live)
type BrokerHandler struct {
	svc    BrokerAccountService
	logger *zap.Logger
}

// NewBrokerHandler создает BrokerHandler
func NewBrokerHandler(svc BrokerAccountService, logger *zap.Logger) *BrokerHandler {
	return &BrokerHandler{svc: svc, logger: nopIfNil(logger)}
}

// ListAccounts возвращает все счета. Ключи в ответ не попадают.
func (h *BrokerHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

// CreateAccount привязывает счёт
// POST /api/v1/broker-accounts
//
// Request Body:
//
//	{
//	  "broker_name": "dhan",
//	  "account_id": "1100001",
//	  "access_token": "...",
//	  "is_default": true
//	}
func (h *BrokerHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBrokerAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := h.svc.CreateAccount(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

// GetAccount возвращает счёт
func (h *BrokerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := h.svc.GetAccount(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

// DeleteAccount удаляет счёт
func (h *BrokerHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteAccount(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBalance возвращает баланс; по умолчанию - симулятора
func (h *BrokerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mode := models.TradingMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = models.TradingModePaper
	}
	if !mode.Valid() {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "mode must be paper or live", string(mode))
		return
	}
	balance, err := h.svc.Balance(r.Context(), id, mode)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, balance)
}
