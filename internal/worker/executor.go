package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Event — событие, полученное из очереди.
type Event struct {
	ID     string
	Method string

	// URI — путь события с query, например "/orders/42?full=1".
	URI string

	// Headers — заголовки fw-* в нижнем регистре.
	Headers map[string]string
	Body    []byte
}

// Result — ответ воркера на событие.
type Result struct {
	Status int

	// Headers — заголовки ответа. Заголовки сервиса передаются
	// как fw-header-*, content-type можно указать напрямую.
	Headers map[string]string
	Body    []byte
}

// Executor — интерфейс для выполнения события.
//
// Ошибка Execute означает, что сервис недоступен: воркер отвечает 502.
// Ответ сервиса с любым кодом возвращается через Result.
type Executor interface {
	Execute(ctx context.Context, e *Event) (*Result, error)
}

// ExecutorFunc позволяет использовать функцию как Executor.
type ExecutorFunc func(ctx context.Context, e *Event) (*Result, error)

// Execute вызывает f(ctx, e).
func (f ExecutorFunc) Execute(ctx context.Context, e *Event) (*Result, error) {
	return f(ctx, e)
}

// Registry — реестр executor'ов по префиксу пути события.
// Выбирается самый длинный подходящий префикс.
type Registry struct {
	prefixes  []string
	executors map[string]Executor
}

// NewRegistry создаёт реестр с executor'ом по умолчанию для префикса "/".
func NewRegistry(def Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	if def != nil {
		r.Register("/", def)
	}
	return r
}

// Register добавляет executor для префикса пути.
func (r *Registry) Register(prefix string, executor Executor) {
	if _, ok := r.executors[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		sort.Slice(r.prefixes, func(i, j int) bool { return len(r.prefixes[i]) > len(r.prefixes[j]) })
	}
	r.executors[prefix] = executor
}

// Get возвращает executor для пути uri.
func (r *Registry) Get(uri string) (Executor, error) {
	for _, p := range r.prefixes {
		if strings.HasPrefix(uri, p) {
			return r.executors[p], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoExecutor, uri)
}
