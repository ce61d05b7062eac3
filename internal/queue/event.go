package queue

import (
	"sync/atomic"
	"time"

	"github.com/shaiso/flowcase/internal/domain"
)

// Response — ответ воркера на событие.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Event — событие для воркера.
type Event struct {
	ID      string
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte

	// Callback — внешний callback, получает ответ, если его не забрал
	// ожидающий отправитель или OnResponse.
	Callback *domain.Callback

	// OnSent вызывается, когда событие выдано воркеру.
	OnSent func()

	// OnResponse получает ответ воркера (мост к оркестратору).
	OnResponse func(Response)

	arrived time.Time
	sent    time.Time
	group   *group
	waiter  *waiter
}

// Delivery — событие, выданное воркеру.
type Delivery struct {
	ID      string
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

func (e *Event) delivery() *Delivery {
	headers := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}
	return &Delivery{ID: e.ID, Method: e.Method, Path: e.Path, Headers: headers, Body: e.Body}
}

// waiter — отправитель, ждущий ответ синхронно. Забирается ровно один раз:
// либо ответом, либо таймаутом.
type waiter struct {
	claimed atomic.Bool
	ch      chan Response
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan Response, 1)}
}

func (w *waiter) claim() bool {
	return w.claimed.CompareAndSwap(false, true)
}
