package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/flowcase/internal/archive"
	"github.com/shaiso/flowcase/internal/definition"
	"github.com/shaiso/flowcase/internal/orchestrator"
	"github.com/shaiso/flowcase/internal/queue"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeGatewayTimeout ErrorCode = "GATEWAY_TIMEOUT"
)

// ErrorResponse — тело ответа с ошибкой: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — тело успешного ответа: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — тело ответа со списком и общим числом записей.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Forbidden отправляет ошибку 403.
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorStatus сопоставляет ошибки сервиса с HTTP статусом.
// Проверяется по порядку, первая подходящая запись побеждает.
var errorStatus = []struct {
	err    error
	status int
	code   ErrorCode
}{
	{orchestrator.ErrUnknownCaseType, http.StatusBadRequest, ErrCodeBadRequest},
	{definition.ErrUnknownCaseType, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrInvalidRequest, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrInvalidAsset, http.StatusBadRequest, ErrCodeBadRequest},
	{archive.ErrInvalidKey, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrCaseNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrTaskNotFound, http.StatusNotFound, ErrCodeNotFound},
	{queue.ErrEventNotFound, http.StatusNotFound, ErrCodeNotFound},
	{archive.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrTaskFinished, http.StatusConflict, ErrCodeConflict},
	{orchestrator.ErrCaseNotFinished, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{queue.ErrGatewayTimeout, http.StatusGatewayTimeout, ErrCodeGatewayTimeout},
}

// HandleError пишет ответ для ошибки сервиса.
// Возвращает false, если ошибки нет. Неизвестная ошибка даёт 500.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			Error(w, e.status, e.code, err.Error())
			return true
		}
	}
	InternalError(w, logger, err)
	return true
}
