package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"algopilot/internal/engine"
	"algopilot/internal/repository"
	"algopilot/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes - верхняя граница тела запроса
const maxBodyBytes = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// errorMapping - соответствие ошибок слоя сервисов HTTP-статусам
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrValidation, http.StatusBadRequest, "validation_error"},
	{service.ErrBrokerNotSupported, http.StatusBadRequest, "broker_not_supported"},

	{repository.ErrBrokerAccountNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrStrategyNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrStrategyRunNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrOrderNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrTradeNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrPositionNotFound, http.StatusNotFound, "not_found"},

	{engine.ErrInvalidRunState, http.StatusConflict, "invalid_run_state"},
	{engine.ErrRunNotTracked, http.StatusConflict, "run_not_running"},
	{engine.ErrOrderNotCancellable, http.StatusConflict, "order_not_cancellable"},
	{engine.ErrNoBrokerAccount, http.StatusConflict, "broker_account_missing"},
	{repository.ErrBrokerAccountInUse, http.StatusConflict, "broker_account_in_use"},
	{repository.ErrStrategyExists, http.StatusConflict, "strategy_exists"},
	{service.ErrStrategyInactive, http.StatusConflict, "strategy_inactive"},
	{service.ErrBrokerAccountInactive, http.StatusConflict, "broker_account_inactive"},

	{engine.ErrCandleQueueFull, http.StatusServiceUnavailable, "queue_full"},
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// respondServiceError отображает ошибку сервиса в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 без подробностей.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			respondWithError(w, m.status, m.code, m.err.Error(), err.Error())
			return
		}
	}
	logger.Error("request failed", zap.Error(err))
	respondWithError(w, http.StatusInternalServerError, "internal_error", "internal server error", "")
}

// decodeJSON читает тело запроса; при ошибке сам пишет 400
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", err.Error())
		return false
	}
	return true
}

// pathID читает {id} из маршрута; при ошибке сам пишет 400
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "invalid id", mux.Vars(r)["id"])
		return 0, false
	}
	return id, true
}

// queryInt читает необязательный целый параметр запроса
func queryInt(w http.ResponseWriter, r *http.Request, name string) (*int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "invalid "+name, raw)
		return nil, false
	}
	return &v, true
}

// queryBool читает необязательный логический параметр запроса
func queryBool(w http.ResponseWriter, r *http.Request, name string) (*bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "invalid "+name, raw)
		return nil, false
	}
	return &v, true
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
