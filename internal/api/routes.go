package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Logging(h.logger),
		Recovery(),
	)
	worker := Chain(
		Logging(h.logger),
		Recovery(),
		RequireAPIKey(h.workerKey),
	)

	// Cases
	mux.Handle("POST /api/v1/cases", chain(http.HandlerFunc(h.CreateCase)))
	mux.Handle("POST /api/v1/start/{caseType}", chain(http.HandlerFunc(h.StartCase)))
	mux.Handle("GET /api/v1/cases/{id}", chain(http.HandlerFunc(h.GetCase)))
	mux.Handle("GET /api/v1/cases/{id}/tasks", chain(http.HandlerFunc(h.ListCaseTasks)))
	mux.Handle("POST /api/v1/cases/{id}/reprocess", chain(http.HandlerFunc(h.ReprocessCase)))

	// Flows и cron
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("GET /api/v1/flows/{code}", chain(http.HandlerFunc(h.GetFlow)))
	mux.Handle("GET /api/v1/cron", chain(http.HandlerFunc(h.ListCronJobs)))

	// Assets
	mux.Handle("POST /api/v1/assets/{caseType}", chain(http.HandlerFunc(h.UploadAsset)))
	mux.Handle("GET /api/v1/assets/{caseType}/{id}", chain(http.HandlerFunc(h.DownloadAsset)))

	// Task callback
	mux.Handle("POST /flow/response/{taskId}", chain(http.HandlerFunc(h.TaskResponse)))

	// Queue
	mux.Handle("GET /api/v1/queue/stats", chain(http.HandlerFunc(h.QueueStats)))
	mux.Handle("/queue/{path...}", chain(http.HandlerFunc(h.SubmitEvent)))
	mux.Handle("GET /.queue/worker", worker(http.HandlerFunc(h.WorkerPoll)))
	mux.Handle("POST /.queue/response/{eventId}", worker(http.HandlerFunc(h.WorkerResponse)))
}

// RegisterHealth регистрирует /healthz и /metrics.
func RegisterHealth(mux *http.ServeMux, started time.Time) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(started).Round(time.Second))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
}
