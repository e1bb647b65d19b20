package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var httpStatusMap = map[string]int{
	CodeInternal:          http.StatusInternalServerError,
	CodeNotFound:          http.StatusNotFound,
	CodeBadRequest:        http.StatusBadRequest,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeConflict:          http.StatusConflict,
	CodeValidation:        http.StatusBadRequest,
	CodeMalformedGeometry: http.StatusBadRequest,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeRateLimited:       http.StatusTooManyRequests,
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   ErrorBody `json:"error"`
	TraceID string    `json:"trace_id,omitempty"`
}

// ErrorBody contains the error details.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// HTTPStatus returns the HTTP status code for an error. Errors without a
// known code map to 500.
func HTTPStatus(err error) int {
	if status, ok := httpStatusMap[Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError writes an error response. Internal details of non-coded errors
// are never exposed.
func WriteError(w http.ResponseWriter, err error, traceID string) {
	status := HTTPStatus(err)

	body := ErrorBody{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != CodeInternal {
		body = ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: body, TraceID: traceID})
}

// WriteErrorWithStatus writes an error response with a specific status code.
func WriteErrorWithStatus(w http.ResponseWriter, status int, code, message string) {
	response := ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
