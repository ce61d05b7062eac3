package worker

import (
	"context"
	"net/http"

	"github.com/shaiso/flowcase/internal/header"
)

// EchoExecutor возвращает тело события без изменений.
// Удобен для проверки маршрутизации очереди.
type EchoExecutor struct{}

// Execute возвращает 200 с телом и content-type события.
func (EchoExecutor) Execute(_ context.Context, e *Event) (*Result, error) {
	contentType := e.Headers[header.HeaderPrefix+header.ContentType]
	if contentType == "" {
		contentType = e.Headers[header.ContentType]
	}
	headers := map[string]string{}
	if contentType != "" {
		headers[header.ContentType] = contentType
	}
	return &Result{Status: http.StatusOK, Headers: headers, Body: e.Body}, nil
}
