package definition

import (
	"errors"
	"fmt"
)

// Ошибки определений.
var (
	// ErrUnknownCaseType — flow с таким кодом не загружен.
	ErrUnknownCaseType = errors.New("unknown case type")

	// ErrInvalidDefinition — определение не прошло валидацию.
	ErrInvalidDefinition = errors.New("invalid flow definition")

	// ErrDuplicateCode — повторяющийся код flow, шага или воркера.
	ErrDuplicateCode = errors.New("duplicate code")
)

// ValidationError — ошибка валидации с указанием места в определении.
type ValidationError struct {
	Flow    string // код flow
	Field   string // путь к полю: steps[load].workers[fetch].where
	Message string // описание
	Err     error  // исходная ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("flow %q: %s: %s", e.Flow, e.Field, msg)
	}
	return fmt.Sprintf("flow %q: %s", e.Flow, msg)
}

// Unwrap возвращает исходную ошибку или ErrInvalidDefinition.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidDefinition, e.Err}
	}
	return []error{ErrInvalidDefinition}
}
