package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка case.
var (
	CasesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowcase_cases_created_total",
		Help: "Total number of created cases",
	}, []string{"case_type"})

	CasesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowcase_cases_finished_total",
		Help: "Total number of finished cases",
	}, []string{"case_type", "state"})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowcase_tasks_finished_total",
		Help: "Total number of finished tasks by status class",
	}, []string{"status"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowcase_tick_duration_seconds",
		Help:    "Duration of case ticks",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowcase_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "status"})

	WorkerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowcase_worker_events_total",
		Help: "Total number of events handled by the pull worker",
	}, []string{"prefix", "status"})
)

// StatusClass сводит HTTP-код к классу "2xx", "4xx" и т.д.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
