package dispatch

import "errors"

var (
	// ErrInvalidPath — путь воркера не разбирается как URL.
	ErrInvalidPath = errors.New("dispatch: invalid path")

	// ErrClosed — dispatcher остановлен.
	ErrClosed = errors.New("dispatch: closed")
)
