package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/flowcase/internal/header"
)

const defaultHTTPTimeout = 30 * time.Second

// hopHeaders не возвращаются в ответе события.
var hopHeaders = []string{"Connection", "Content-Length", "Date", "Keep-Alive", "Transfer-Encoding"}

// HTTPExecutor пересылает событие локальному сервису.
//
// Запрос идёт на Target + URI события тем же методом. Заголовки
// fw-header-x передаются как x, ответ сервиса возвращается
// с заголовками в fw-header-*.
type HTTPExecutor struct {
	// Target — базовый адрес сервиса, например "http://localhost:8081".
	Target string

	// StripPrefix убирается из начала URI перед отправкой.
	StripPrefix string

	Client *http.Client
}

// Execute выполняет HTTP-запрос к сервису.
func (e *HTTPExecutor) Execute(ctx context.Context, ev *Event) (*Result, error) {
	uri := ev.URI
	if e.StripPrefix != "" {
		uri = "/" + strings.TrimPrefix(strings.TrimPrefix(uri, e.StripPrefix), "/")
	}
	method := ev.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(ev.Body) > 0 {
		body = bytes.NewReader(ev.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(e.Target, "/")+uri, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}
	for k, v := range header.Unwrap(ev.Headers) {
		req.Header.Set(k, v)
	}

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	return &Result{
		Status:  resp.StatusCode,
		Headers: header.Wrap(resp.Header),
		Body:    respBody,
	}, nil
}
