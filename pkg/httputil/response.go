package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
)

// ErrorResponse is the error body returned by every API route
type ErrorResponse struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteAppError writes err as {"code","message"} with the status mapped from
// its code. Uncoded errors are reported as INTERNAL without their details.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	WriteErrorMessage(w, apperrors.HTTPStatus(code), code, apperrors.MessageOf(err))
}

// WriteErrorMessage writes an error body with an explicit status
func WriteErrorMessage(w http.ResponseWriter, status int, code apperrors.Code, message string) {
	WriteJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// WriteBadRequest writes an INVALID_ARGUMENT error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, apperrors.InvalidArgument, message)
}

// WriteUnauthorized writes an UNAUTHENTICATED error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, apperrors.Unauthenticated, message)
}
