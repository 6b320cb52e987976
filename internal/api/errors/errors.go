// Пакет errors — конструкторы стандартных ошибок filedrop.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Для превышения размера добавляется поле "limit".
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeOutOfOrder      = "OUT_OF_ORDER"
	CodeIncomplete      = "INCOMPLETE_UPLOAD"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Limit — действующий предел размера (только для FILE_TOO_LARGE)
	Limit *int64 `json:"limit,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, errorDetail{Code: code, Message: message})
}

func write(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// OutOfOrder — 409 чанк пришёл не по порядку.
func OutOfOrder(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeOutOfOrder, message)
}

// Incomplete — 400 finalize до получения всех байтов.
func Incomplete(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeIncomplete, message)
}

// FileTooLarge — 400 файл превышает предел; limit попадает в тело.
func FileTooLarge(w http.ResponseWriter, message string, limit int64) {
	write(w, http.StatusBadRequest, errorDetail{Code: CodeFileTooLarge, Message: message, Limit: &limit})
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// RateLimited — 429 превышена частота запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
