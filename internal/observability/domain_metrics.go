package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_ask_total",
			Help: "Total number of questions answered, by outcome.",
		},
		[]string{"outcome"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_stage_duration_seconds",
			Help:    "Duration of each agent stage.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	budgetRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_budget_rejections_total",
			Help: "Prompts rejected because they leave no room in the model context window.",
		},
		[]string{"stage"},
	)
	backendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_backend_calls_total",
			Help: "Total number of completion backend invocations.",
		},
		[]string{"provider", "outcome"},
	)
	backendCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_backend_call_duration_seconds",
			Help:    "Completion backend invocation latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)
	backendTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_backend_tokens_total",
			Help: "Tokens reported by completion backends.",
		},
		[]string{"provider", "direction"},
	)
	sqlExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_sql_executions_total",
			Help: "Total number of generated SQL statements executed, by outcome.",
		},
		[]string{"outcome"},
	)
	sqlExecutionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_sql_execution_duration_seconds",
			Help:    "Generated SQL execution latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	historyRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_history_records_total",
			Help: "Run archive writes, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		askTotal,
		stageDurationSeconds,
		budgetRejectionsTotal,
		backendCallsTotal,
		backendCallDurationSeconds,
		backendTokensTotal,
		sqlExecutionsTotal,
		sqlExecutionDurationSeconds,
		historyRecordsTotal,
	)
}

func ObserveAsk(outcome string) {
	askTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementBudgetRejection(stage string) {
	budgetRejectionsTotal.WithLabelValues(stage).Inc()
}

func ObserveBackendCall(provider, outcome string, elapsed time.Duration) {
	backendCallsTotal.WithLabelValues(provider, outcome).Inc()
	backendCallDurationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveBackendTokens ignores non-positive counts; backends that do not
// report usage contribute nothing.
func ObserveBackendTokens(provider, direction string, n int) {
	if n <= 0 {
		return
	}
	backendTokensTotal.WithLabelValues(provider, direction).Add(float64(n))
}

func ObserveSQLExecution(outcome string, elapsed time.Duration) {
	sqlExecutionsTotal.WithLabelValues(outcome).Inc()
	sqlExecutionDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveHistoryRecord(outcome string) {
	historyRecordsTotal.WithLabelValues(outcome).Inc()
}
