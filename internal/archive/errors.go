package archive

import "errors"

var (
	// ErrNotFound — объект отсутствует в хранилище.
	ErrNotFound = errors.New("archive: not found")

	// ErrInvalidKey — недопустимый тип case, id или расширение.
	ErrInvalidKey = errors.New("archive: invalid key")
)
