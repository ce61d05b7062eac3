package domain

import "strings"

// CaseState — состояние case.
//
// Жизненный цикл:
//
//	CREATED → STEP:<code> (по одному на каждый шаг) → FINISHED
//	                                               ↘ ERROR
type CaseState string

const (
	// CaseStateCreated — case создан, ни один шаг ещё не открыт.
	CaseStateCreated CaseState = "CREATED"

	// CaseStateFinished — case завершён.
	CaseStateFinished CaseState = "FINISHED"

	// CaseStateError — case завершён, response-воркер вернул ошибку.
	CaseStateError CaseState = "ERROR"
)

// stepStatePrefix — префикс состояния текущего шага.
const stepStatePrefix = "STEP:"

// StepState возвращает состояние для шага с кодом code.
func StepState(code string) CaseState {
	return CaseState(stepStatePrefix + code)
}

// Step возвращает код текущего шага, если состояние вида STEP:<code>.
func (s CaseState) Step() (string, bool) {
	if !strings.HasPrefix(string(s), stepStatePrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), stepStatePrefix), true
}

// IsTerminal возвращает true, если case завершён.
func (s CaseState) IsTerminal() bool {
	return s == CaseStateFinished || s == CaseStateError
}

// IsSuccessCode возвращает true для кодов успешного завершения task (200..202).
func IsSuccessCode(code int) bool {
	return code >= 200 && code <= 202
}
