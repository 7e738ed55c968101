// Пакет errors — конструкторы стандартных ошибок Signing Module.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок.
const (
	CodeValidationError             = "VALIDATION_ERROR"
	CodeNotFound                    = "NOT_FOUND"
	CodeUnauthorized                = "UNAUTHORIZED"
	CodeCorrelationMismatch         = "CORRELATION_MISMATCH"
	CodeUnsupportedDocument         = "UNSUPPORTED_DOCUMENT"
	CodeSPUnavailable               = "SP_UNAVAILABLE"
	CodeSignatureServiceUnavailable = "SIGNATURE_SERVICE_UNAVAILABLE"
	CodeInternalError               = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
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

// Unauthorized — 401 context token отсутствует или недействителен.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// CorrelationMismatch — 403 callback не соответствует начатой signing-сессии.
func CorrelationMismatch(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeCorrelationMismatch, message)
}

// UnsupportedDocument — 422 документ нельзя отправить на подпись.
func UnsupportedDocument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, CodeUnsupportedDocument, message)
}

// SPUnavailable — 502 SharePoint или ACS недоступен.
func SPUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeSPUnavailable, message)
}

// SignatureServiceUnavailable — 502 Document Service провайдера недоступен или вернул fault.
func SignatureServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeSignatureServiceUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
