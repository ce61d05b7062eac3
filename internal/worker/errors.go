package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoExecutor — нет executor'а для пути события.
	ErrNoExecutor = errors.New("no executor for path")

	// ErrForbidden — сервер отклонил X-Api-Key воркера.
	ErrForbidden = errors.New("worker api key rejected")

	// ErrUnexpectedStatus — неожиданный ответ сервера очереди.
	ErrUnexpectedStatus = errors.New("unexpected queue status")

	// ErrHTTPRequest — запрос к локальному сервису завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")
)
