package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"algopilot/internal/models"
)

// ============================================================
// Prometheus метрики исполнительного ядра
// ============================================================

// IntentsProcessed - торговые намерения по исходу обработки
var IntentsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "intents_processed_total",
		Help:      "Total number of processed trade intents by outcome",
	},
	[]string{"mode", "outcome"},
)

// IntentLatency - время от намерения до сохранённого ордера
var IntentLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "intent_latency_ms",
		Help:      "Time from trade intent to persisted order in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"mode"},
)

// OrderSubmissions - отправки ордеров брокеру
var OrderSubmissions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "order_submissions_total",
		Help:      "Total number of broker order submissions by result",
	},
	[]string{"broker", "result"},
)

// OrderSubmitLatency - время вызова PlaceOrder
var OrderSubmitLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "order_submit_latency_ms",
		Help:      "Broker PlaceOrder latency in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"broker"},
)

// RunningStrategies - число активных запусков
var RunningStrategies = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "running_strategies",
		Help:      "Number of strategy runs with a live execution task",
	},
)

// CandlesProcessed - обработанные свечи по стратегиям
var CandlesProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "candles_processed_total",
		Help:      "Total number of candle-close events processed",
	},
	[]string{"strategy"},
)

// MailboxOverflows - отброшенные рыночные события из-за полной очереди
var MailboxOverflows = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "mailbox_overflows_total",
		Help:      "Market events dropped because a run mailbox was full",
	},
)

// RunFaults - запуски, завершённые ошибкой
var RunFaults = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "run_faults_total",
		Help:      "Total number of strategy runs that ended in error",
	},
)

// OrderSyncUpdates - изменения статусов при синхронизации с брокером
var OrderSyncUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "engine",
		Name:      "order_sync_updates_total",
		Help:      "Order status changes applied from broker polling",
	},
	[]string{"status"},
)

// ============ Helper функции ============

// RecordIntent записывает исход обработки намерения
func RecordIntent(mode models.TradingMode, outcome Outcome) {
	IntentsProcessed.WithLabelValues(string(mode), string(outcome)).Inc()
}

// RecordIntentLatency записывает латентность намерение → ордер
func RecordIntentLatency(mode models.TradingMode, ms float64) {
	IntentLatency.WithLabelValues(string(mode)).Observe(ms)
}

// RecordSubmission записывает результат отправки ордера
func RecordSubmission(broker, result string, ms float64) {
	OrderSubmissions.WithLabelValues(broker, result).Inc()
	OrderSubmitLatency.WithLabelValues(broker).Observe(ms)
}

// RecordCandle увеличивает счётчик обработанных свечей
func RecordCandle(strategy string) {
	CandlesProcessed.WithLabelValues(strategy).Inc()
}

// RecordOrderSync записывает применённое обновление статуса
func RecordOrderSync(status string) {
	OrderSyncUpdates.WithLabelValues(status).Inc()
}
