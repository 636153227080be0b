package http

import (
	"net/http"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Category  string   `json:"category,omitempty"`
	Code      string   `json:"code,omitempty"`
	Stages    []string `json:"stages,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeDatabaseNotOpen, errors.CodeObjectNotFound:
		return http.StatusNotFound
	case errors.CodeChecksumMismatch:
		return http.StatusUnprocessableEntity
	}
	switch errors.GetCategory(err) {
	case errors.ErrCategoryValidation, errors.ErrCategoryParse:
		return http.StatusBadRequest
	case errors.ErrCategoryState:
		return http.StatusConflict
	case errors.ErrCategorySentinel, errors.ErrCategoryQuery:
		return http.StatusUnprocessableEntity
	case errors.ErrCategoryStorage:
		return http.StatusBadGateway
	case errors.ErrCategoryConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status StatusFor assigns it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, StatusFor(err), ErrorResponse{
		Error:     err.Error(),
		Category:  string(errors.GetCategory(err)),
		Code:      errors.GetCode(err),
		Stages:    errors.Stages(err),
		RequestID: GetRequestID(r.Context()),
	})
}

// writeBadRequest writes a 400 with a plain message.
func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     message,
		RequestID: GetRequestID(r.Context()),
	})
}
