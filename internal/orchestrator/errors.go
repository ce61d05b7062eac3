package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrUnknownCaseType — нет определения flow для типа case.
	ErrUnknownCaseType = errors.New("unknown case type")

	// ErrInvalidRequest — некорректные данные запроса (externalId, params, фильтр).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidAsset — asset не найден в архиве.
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrCaseNotFound — case не найден.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCaseNotFinished — операция требует завершённого case.
	ErrCaseNotFinished = errors.New("case not finished")

	// ErrTaskNotFound — task не найден.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskFinished — task уже завершён, повторный результат отклонён.
	ErrTaskFinished = errors.New("task already finished")
)
