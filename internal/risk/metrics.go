package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decisions - решения правил
var Decisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "risk",
		Name:      "decisions_total",
		Help:      "Risk rule decisions by rule and result",
	},
	[]string{"rule", "result"},
)

// Degraded - проверки без нужных данных
var Degraded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algopilot",
		Subsystem: "risk",
		Name:      "degraded_evaluations_total",
		Help:      "Risk rule evaluations skipped due to missing context or lookup errors",
	},
	[]string{"rule", "reason"},
)

// RecordDecision записывает решение правила
func RecordDecision(rule string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	Decisions.WithLabelValues(rule, result).Inc()
}

// RecordDegraded записывает пропуск правила
func RecordDegraded(rule, reason string) {
	Degraded.WithLabelValues(rule, reason).Inc()
}
