package api

import (
	"net/http"
)

// ListFlows возвращает загруженные определения flow.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	defs := h.defs.List()
	result := make([]FlowResponse, len(defs))
	for i, d := range defs {
		result[i] = FlowFromDomain(d)
	}
	List(w, result, len(result))
}

// GetFlow возвращает нормализованное определение flow.
// GET /api/v1/flows/{code}
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	def, err := h.defs.Resolve(r.PathValue("code"))
	if err != nil {
		NotFound(w, "flow not found")
		return
	}
	Success(w, def)
}

// ListCronJobs возвращает cron jobs со временем следующего запуска.
// GET /api/v1/cron
func (h *Handler) ListCronJobs(w http.ResponseWriter, r *http.Request) {
	if h.cron == nil {
		List(w, []CronJobResponse{}, 0)
		return
	}
	jobs := h.cron.Jobs()
	result := make([]CronJobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = CronJobFromScheduler(j)
	}
	List(w, result, len(result))
}
