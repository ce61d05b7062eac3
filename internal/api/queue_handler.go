package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/header"
	"github.com/shaiso/flowcase/internal/queue"
)

// TaskResponse принимает результат task от воркера.
// POST /flow/response/{taskId}
//
// X-Api-Key — HMAC id task, fw-status — код результата (default: 200).
func (h *Handler) TaskResponse(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if !h.signer.Verify(taskID, r.Header.Get(header.APIKey)) {
		Forbidden(w, "invalid X-Api-Key")
		return
	}
	id, err := uuid.Parse(taskID)
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}
	status, ok := statusHeader(r.Header)
	if !ok {
		BadRequest(w, "invalid fw-status")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	err = h.manager.FinishTaskResponse(r.Context(), id, status, body)
	if HandleError(w, h.logger, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitEvent ставит внешнее событие в очередь воркеров.
// /queue/{path...}?timeout=N
//
// Без timeout отвечает 201 с fw-event-id. С timeout ждёт ответ
// воркера до N секунд и возвращает его либо 504.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	var wait time.Duration
	if v := r.URL.Query().Get("timeout"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			BadRequest(w, "invalid timeout")
			return
		}
		wait = time.Duration(n) * time.Second
	}

	id := uuid.NewString()
	path := "/" + r.PathValue("path")
	uri := path
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}
	e := &queue.Event{
		ID:       id,
		Method:   r.Method,
		Path:     path,
		Headers:  header.EventRequest(r.Header, id, r.Method, uri),
		Body:     body,
		Callback: header.CallbackFrom(r.Header),
	}
	h.logger.Debug("queue event", "event_id", id, "path", path, "wait", wait)

	resp, err := h.broker.Submit(r.Context(), e, wait)
	if err != nil {
		if errors.Is(err, queue.ErrGatewayTimeout) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = io.WriteString(w, "<h1>Queue Gateway Timeout</h1>")
			return
		}
		HandleError(w, h.logger, err)
		return
	}
	if resp == nil {
		w.Header().Set(header.EventID, id)
		w.WriteHeader(http.StatusCreated)
		return
	}
	header.Apply(w.Header(), resp.Headers)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// WorkerPoll выдаёт событие воркеру (long-poll).
// GET /.queue/worker?path=/prefix/&workerId=w1&slow=N&timeout=N
//
// Медленного воркера можно задать и суффиксом пути: /prefix/@slow5.
// По таймауту отвечает 202 без тела.
func (h *Handler) WorkerPoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix, pathSlow := queue.ParsePrefix(q.Get("path"))
	if !strings.HasPrefix(prefix, "/") {
		BadRequest(w, "path must start with /")
		return
	}
	workerID := q.Get("workerId")
	if workerID == "" {
		workerID = r.RemoteAddr
	}
	slow, err := secondsParam(q.Get("slow"))
	if err != nil {
		BadRequest(w, "invalid slow")
		return
	}
	if slow == 0 {
		slow = pathSlow
	}
	timeout, err := secondsParam(q.Get("timeout"))
	if err != nil {
		BadRequest(w, "invalid timeout")
		return
	}

	d, err := h.broker.Poll(r.Context(), prefix, workerID, slow, timeout)
	if err != nil && !errors.Is(err, r.Context().Err()) {
		HandleError(w, h.logger, err)
		return
	}
	if d == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	header.Apply(w.Header(), d.Headers)
	w.Header().Set(header.EventID, d.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.Body)
}

// WorkerResponse принимает ответ воркера на событие.
// POST /.queue/response/{eventId}
func (h *Handler) WorkerResponse(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventId")
	status, ok := statusHeader(r.Header)
	if !ok {
		BadRequest(w, "invalid fw-status")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	err = h.broker.Respond(eventID, status, header.EventResponse(r.Header, eventID), body)
	if HandleError(w, h.logger, err) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueStats возвращает состояние групп воркеров.
// GET /api/v1/queue/stats
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats := h.broker.Stats()
	List(w, stats, len(stats))
}

// statusHeader читает fw-status, 200 по умолчанию.
func statusHeader(h http.Header) (int, bool) {
	v := h.Get(header.Status)
	if v == "" {
		return http.StatusOK, true
	}
	status, err := strconv.Atoi(v)
	if err != nil || status < 100 || status > 999 {
		return 0, false
	}
	return status, true
}

func secondsParam(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid seconds")
	}
	return time.Duration(n) * time.Second, nil
}

