// Package header описывает заголовки fw-* и преобразования между
// HTTP-запросами, событиями очереди и callback.
package header

import (
	"net/http"
	"strings"

	"github.com/shaiso/flowcase/internal/domain"
)

// Служебные заголовки.
const (
	CaseID         = "fw-case-id"
	EventID        = "fw-event-id"
	Method         = "fw-method"
	URI            = "fw-uri"
	Status         = "fw-status"
	Callback       = "fw-callback"
	CallbackPrefix = "fw-callback-"
	HeaderPrefix   = "fw-header-"

	// APIKey — ключ task callback и воркеров.
	APIKey = "X-Api-Key"

	ContentType = "content-type"
	JSONType    = "application/json"
)

// requestNames — заголовки запроса, передаваемые воркеру в обёртке fw-header-.
var requestNames = map[string]bool{
	"authorization":    true,
	"x-api-key":        true,
	"content-type":     true,
	"content-encoding": true,
}

// responseNames — заголовки ответа воркера, возвращаемые как есть.
var responseNames = map[string]bool{
	"content-type":     true,
	"content-encoding": true,
	"e-tag":            true,
}

// EventRequest собирает заголовки события из входящего запроса.
func EventRequest(h http.Header, id, method, path string) map[string]string {
	m := make(map[string]string)
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		k = strings.ToLower(k)
		switch {
		case strings.HasPrefix(k, HeaderPrefix):
			m[k] = v[0]
		case requestNames[k]:
			m[HeaderPrefix+k] = v[0]
		}
	}
	m[EventID] = id
	m[Method] = method
	m[URI] = path
	return m
}

// EventResponse собирает заголовки ответа из ответа воркера:
// fw-header-x превращается в x.
func EventResponse(h http.Header, id string) map[string]string {
	m := make(map[string]string)
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		k = strings.ToLower(k)
		switch {
		case strings.HasPrefix(k, HeaderPrefix):
			m[k[len(HeaderPrefix):]] = v[0]
		case responseNames[k]:
			m[k] = v[0]
		}
	}
	m[EventID] = id
	return m
}

// QueueRequest готовит заголовки task для очереди: нестандартные
// заголовки оборачиваются в fw-header-.
func QueueRequest(headers map[string]string) map[string]string {
	m := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if !requestNames[lk] && !strings.HasPrefix(lk, "fw-") {
			m[HeaderPrefix+lk] = v
		} else {
			m[lk] = v
		}
	}
	return m
}

// Unwrap возвращает заголовки для исходного запроса к сервису воркера:
// fw-header-x превращается в x, остальные fw-* отбрасываются.
func Unwrap(headers map[string]string) map[string]string {
	m := make(map[string]string)
	for k, v := range headers {
		lk := strings.ToLower(k)
		switch {
		case strings.HasPrefix(lk, HeaderPrefix):
			m[lk[len(HeaderPrefix):]] = v
		case !strings.HasPrefix(lk, "fw-"):
			m[lk] = v
		}
	}
	return m
}

// Wrap переносит заголовки ответа сервиса в fw-header-*.
func Wrap(h http.Header) map[string]string {
	m := make(map[string]string)
	for k, v := range h {
		if len(v) > 0 {
			m[HeaderPrefix+strings.ToLower(k)] = v[0]
		}
	}
	return m
}

// CallbackFrom читает callback из fw-callback и fw-callback-*.
// Без fw-callback возвращает nil.
func CallbackFrom(h http.Header) *domain.Callback {
	url := h.Get(Callback)
	if url == "" {
		return nil
	}
	cb := &domain.Callback{URL: url, Headers: make(map[string]string)}
	for k, v := range h {
		k = strings.ToLower(k)
		if strings.HasPrefix(k, CallbackPrefix) && len(v) > 0 {
			cb.Headers[k[len(CallbackPrefix):]] = v[0]
		}
	}
	return cb
}

// Apply записывает заголовки из map в h.
func Apply(h http.Header, headers map[string]string) {
	for k, v := range headers {
		h.Set(k, v)
	}
}
