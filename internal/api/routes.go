package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"algopilot/internal/api/handlers"
	"algopilot/internal/api/middleware"
	"algopilot/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	BrokerService    handlers.BrokerAccountService
	StrategyService  handlers.StrategyService
	OrderService     handlers.OrderService
	PortfolioService handlers.PortfolioService
	RiskService      handlers.RiskService

	Hub       *websocket.Hub
	WSOrigins *websocket.OriginChecker

	// HealthCheck - проверка зависимостей для /health (обычно db.PingContext)
	HealthCheck func(ctx context.Context) error

	APITokenHash string
	CORSOrigins  []string
	Logger       *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /broker-accounts/
//	│   ├── GET, POST /
//	│   ├── GET, DELETE /{id}
//	│   └── GET /{id}/balance
//	├── /strategies/
//	│   ├── GET, POST /
//	│   ├── GET /implementations
//	│   ├── GET /{id}
//	│   └── POST /{id}/runs
//	├── /runs/
//	│   ├── GET /
//	│   ├── GET /{id}
//	│   ├── POST /{id}/start, /{id}/stop
//	│   ├── POST /{id}/candles
//	│   └── GET, POST /{id}/pnl
//	├── /orders/
//	│   ├── GET /, GET /{id}
//	│   └── POST /{id}/cancel
//	├── /trades/          GET /, GET /{id}
//	├── /positions/       GET /, GET /{id}
//	├── /risk-events/     GET /, GET /stats
//	└── /risk/limits      GET
//
// /ws/stream - WebSocket поток событий исполнения
// /metrics   - Prometheus
// /health    - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. RequestID (для всех маршрутов)
// 3. Logging (для всех маршрутов)
// 4. CORS (для всех маршрутов)
// 5. Auth (только /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.CORSOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.APITokenHash, logger))

	if deps.BrokerService != nil {
		h := handlers.NewBrokerHandler(deps.BrokerService, logger)
		api.HandleFunc("/broker-accounts", h.ListAccounts).Methods("GET")
		api.HandleFunc("/broker-accounts", h.CreateAccount).Methods("POST")
		api.HandleFunc("/broker-accounts/{id:[0-9]+}", h.GetAccount).Methods("GET")
		api.HandleFunc("/broker-accounts/{id:[0-9]+}", h.DeleteAccount).Methods("DELETE")
		api.HandleFunc("/broker-accounts/{id:[0-9]+}/balance", h.GetBalance).Methods("GET")
	}

	if deps.StrategyService != nil {
		h := handlers.NewStrategyHandler(deps.StrategyService, logger)
		api.HandleFunc("/strategies", h.ListStrategies).Methods("GET")
		api.HandleFunc("/strategies", h.CreateStrategy).Methods("POST")
		api.HandleFunc("/strategies/implementations", h.Implementations).Methods("GET")
		api.HandleFunc("/strategies/{id:[0-9]+}", h.GetStrategy).Methods("GET")
		api.HandleFunc("/strategies/{id:[0-9]+}/runs", h.CreateRun).Methods("POST")

		api.HandleFunc("/runs", h.ListRuns).Methods("GET")
		api.HandleFunc("/runs/{id:[0-9]+}", h.GetRun).Methods("GET")
		api.HandleFunc("/runs/{id:[0-9]+}/start", h.StartRun).Methods("POST")
		api.HandleFunc("/runs/{id:[0-9]+}/stop", h.StopRun).Methods("POST")
		api.HandleFunc("/runs/{id:[0-9]+}/candles", h.SubmitCandle).Methods("POST")
	}

	if deps.PortfolioService != nil {
		h := handlers.NewPortfolioHandler(deps.PortfolioService, logger)
		api.HandleFunc("/runs/{id:[0-9]+}/pnl", h.ListPnl).Methods("GET")
		api.HandleFunc("/runs/{id:[0-9]+}/pnl", h.RecordPnl).Methods("POST")
		api.HandleFunc("/trades", h.ListTrades).Methods("GET")
		api.HandleFunc("/trades/{id:[0-9]+}", h.GetTrade).Methods("GET")
		api.HandleFunc("/positions", h.ListPositions).Methods("GET")
		api.HandleFunc("/positions/{id:[0-9]+}", h.GetPosition).Methods("GET")
	}

	if deps.OrderService != nil {
		h := handlers.NewOrderHandler(deps.OrderService, logger)
		api.HandleFunc("/orders", h.ListOrders).Methods("GET")
		api.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods("GET")
		api.HandleFunc("/orders/{id:[0-9]+}/cancel", h.CancelOrder).Methods("POST")
	}

	if deps.RiskService != nil {
		h := handlers.NewRiskHandler(deps.RiskService, logger)
		api.HandleFunc("/risk-events", h.ListEvents).Methods("GET")
		api.HandleFunc("/risk-events/stats", h.Stats).Methods("GET")
		api.HandleFunc("/risk/limits", h.Limits).Methods("GET")
	}

	// браузер не передаёт Authorization при апгрейде; доступ ограничен проверкой Origin
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.Handler(deps.WSOrigins)).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", healthHandler(deps.HealthCheck)).Methods("GET")

	// middleware mux срабатывает только на совпавшем маршруте; preflight отвечает CORS
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}
