package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/header"
	"github.com/shaiso/flowcase/internal/orchestrator"
)

// CreateCase создаёт case.
// POST /api/v1/cases
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.CaseType == "" {
		BadRequest(w, "caseType is required")
		return
	}

	c, err := h.manager.CreateCase(r.Context(), req)
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, IDResponse{ID: c.ID})
}

// StartCase создаёт case из произвольного JSON тела.
// Callback берётся из заголовков fw-callback и fw-callback-*.
// POST /api/v1/start/{caseType}
func (h *Handler) StartCase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		BadRequest(w, "body is not valid JSON")
		return
	}

	c, err := h.manager.StartCase(r.Context(), r.PathValue("caseType"), body, header.CallbackFrom(r.Header))
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, IDResponse{ID: c.ID})
}

// GetCase возвращает case.
// GET /api/v1/cases/{id}?wait=N&full=true
//
// wait — секунды ожидания завершения case (не больше MaxWait),
// full — финальная версия с tasks из архива.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid case id")
		return
	}

	q := r.URL.Query()
	full, _ := strconv.ParseBool(q.Get("full"))
	var wait time.Duration
	if v := q.Get("wait"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "invalid wait")
			return
		}
		wait = time.Duration(n) * time.Second
	}

	c, err := h.manager.WaitCase(r.Context(), id, wait, full)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, c)
}

// ListCaseTasks возвращает сохранённые tasks незавершённого case.
// GET /api/v1/cases/{id}/tasks
func (h *Handler) ListCaseTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid case id")
		return
	}

	tasks, err := h.manager.ListTasks(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}
	List(w, result, len(result))
}

// ReprocessCase создаёт новый case из завершённого.
// POST /api/v1/cases/{id}/reprocess
func (h *Handler) ReprocessCase(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid case id")
		return
	}

	var filter orchestrator.ClearFilter
	err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&filter)
	if err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	newID, err := h.manager.Reprocess(r.Context(), id, filter)
	if HandleError(w, h.logger, err) {
		return
	}
	Created(w, IDResponse{ID: newID})
}
