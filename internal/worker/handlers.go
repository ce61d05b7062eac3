package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/flowcase/internal/header"
	"github.com/shaiso/flowcase/internal/telemetry"
)

// respondAttempts — попытки отправить ответ при сетевых ошибках.
const respondAttempts = 3

// poll ждёт одно событие. По таймауту long-poll возвращает nil.
func (w *Worker) poll(ctx context.Context) (*Event, error) {
	q := url.Values{}
	q.Set("path", w.prefix)
	q.Set("timeout", strconv.Itoa(int(w.pollTimeout/time.Second)))
	if w.workerID != "" {
		q.Set("workerId", w.workerID)
	}
	if w.slow > 0 {
		q.Set("slow", strconv.Itoa(int(w.slow/time.Second)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/.queue/worker?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	if w.apiKey != "" {
		req.Header.Set(header.APIKey, w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return nil, nil
	case http.StatusForbidden:
		return nil, ErrForbidden
	default:
		return nil, fmt.Errorf("%w: poll %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read event body: %w", err)
	}
	return eventFromResponse(resp.Header, body), nil
}

// eventFromResponse собирает Event из заголовков fw-* и content-type ответа poll.
func eventFromResponse(h http.Header, body []byte) *Event {
	headers := make(map[string]string)
	for k, v := range h {
		k = strings.ToLower(k)
		if (strings.HasPrefix(k, "fw-") || k == header.ContentType) && len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &Event{
		ID:      headers[header.EventID],
		Method:  headers[header.Method],
		URI:     headers[header.URI],
		Headers: headers,
		Body:    body,
	}
}

// process выполняет событие и отправляет ответ.
//
// Остановка воркера не прерывает уже полученное событие.
func (w *Worker) process(ctx context.Context, e *Event) {
	logger := w.logger.With("event_id", e.ID, "uri", e.URI)
	if e.ID == "" {
		logger.Warn("event without id, skipped")
		return
	}
	started := time.Now()
	execCtx := context.WithoutCancel(ctx)

	uri := e.URI
	if uri == "" {
		uri = w.prefix
	}
	res, err := w.execute(execCtx, uri, e)
	if err != nil {
		logger.Warn("event execution failed", "error", err)
		res = &Result{
			Status:  http.StatusBadGateway,
			Headers: map[string]string{header.ContentType: "text/plain"},
			Body:    []byte(err.Error()),
		}
	}

	telemetry.WorkerEvents.WithLabelValues(w.prefix, telemetry.StatusClass(res.Status)).Inc()
	logger.Debug("event executed", "status", res.Status, "duration", time.Since(started))

	if err := w.respond(execCtx, e.ID, res); err != nil {
		logger.Error("failed to send event response", "error", err)
	}
}

func (w *Worker) execute(ctx context.Context, uri string, e *Event) (*Result, error) {
	executor, err := w.registry.Get(uri)
	if err != nil {
		return nil, err
	}
	res, err := executor.Execute(ctx, e)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &Result{Status: http.StatusNoContent}, nil
	}
	if res.Status == 0 {
		res.Status = http.StatusOK
	}
	return res, nil
}

// respond отправляет ответ на событие с повтором при сетевых ошибках.
func (w *Worker) respond(ctx context.Context, eventID string, res *Result) error {
	var lastErr error
	for attempt := 1; attempt <= respondAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(calculateBackoff(attempt-1, w.maxBackoff)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		status, err := w.sendResponse(ctx, eventID, res)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status == http.StatusNotFound:
			w.logger.Warn("event expired before response", "event_id", eventID)
			return nil
		case status == http.StatusForbidden:
			return ErrForbidden
		case status >= 300:
			return fmt.Errorf("%w: response %d", ErrUnexpectedStatus, status)
		}
		return nil
	}
	return lastErr
}

func (w *Worker) sendResponse(ctx context.Context, eventID string, res *Result) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.baseURL+"/.queue/response/"+url.PathEscape(eventID), bytes.NewReader(res.Body))
	if err != nil {
		return 0, fmt.Errorf("create response request: %w", err)
	}
	for k, v := range res.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(header.Status, strconv.Itoa(res.Status))
	if w.apiKey != "" {
		req.Header.Set(header.APIKey, w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send response: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
