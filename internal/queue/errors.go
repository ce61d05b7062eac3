package queue

import "errors"

// Ошибки брокера.
var (
	// ErrEventNotFound — событие не найдено (уже получило ответ или истекло).
	ErrEventNotFound = errors.New("queue event not found")

	// ErrGatewayTimeout — ответ воркера не получен за время ожидания.
	ErrGatewayTimeout = errors.New("queue gateway timeout")

	// ErrDuplicateEvent — событие с таким id уже в брокере.
	ErrDuplicateEvent = errors.New("queue event already exists")
)
