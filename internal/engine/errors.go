package engine

import (
	"errors"
	"fmt"
)

// Ошибки выражений.
var (
	// ErrSyntax — выражение не удалось разобрать.
	ErrSyntax = errors.New("expression syntax error")

	// ErrEval — выражение разобрано, но не может быть вычислено
	// (обращение к полю строки, сравнение несовместимых значений и т.д.).
	ErrEval = errors.New("expression evaluation error")

	// ErrUnknownFunction — вызов неизвестной функции.
	ErrUnknownFunction = errors.New("unknown function")
)

// SyntaxError — ошибка разбора с позицией в выражении.
type SyntaxError struct {
	Expr    string // исходное выражение
	Pos     int    // позиция (в байтах)
	Message string // описание
}

// Error реализует интерфейс error.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("parse %q at %d: %s", e.Expr, e.Pos, e.Message)
}

// Unwrap возвращает ErrSyntax.
func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

func evalErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEval, fmt.Sprintf(format, args...))
}
