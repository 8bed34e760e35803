// Package api is the local-loopback HTTP surface (spec.md §6): CRUD for
// configuration entities, screening queries, session management, and
// vectorization/OAuth relay endpoints, served over a
// github.com/go-chi/chi/v5 router. Grounded on the teacher's
// internal/api/router.go middleware stack and internal/api/response's
// envelope, adapted from task/PRD endpoints to this engine's domain.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"knowledge-engine/internal/enginetypes"
)

// ErrorCode names a stable client-facing error category.
type ErrorCode string

const (
	ErrorCodeBadRequest   ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrorCodeConflict     ErrorCode = "CONFLICT"
	ErrorCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
)

// errorResponse is the error half of spec.md §6's
// `{success|status, data?, message?}` contract.
type errorResponse struct {
	Success   bool         `json:"success"`
	Error     errorDetails `json:"error"`
	Timestamp string       `json:"timestamp"`
}

type errorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// successResponse is the success half of the same contract.
type successResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     errorDetails{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(details) > 0 {
		resp.Error.Details = details[0]
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeSuccess(w http.ResponseWriter, data interface{}, message ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := successResponse{Success: true, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if len(message) > 0 {
		resp.Message = message[0]
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeCreated(w http.ResponseWriter, data interface{}, message ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	resp := successResponse{Success: true, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if len(message) > 0 {
		resp.Message = message[0]
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrorCodeNotFound, message)
}

func writeInternal(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "internal error", err.Error())
}

// decodeJSON decodes r's body into v, writing a BAD_REQUEST response
// and returning false on failure so callers can return immediately.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeStoreErr maps the typed store.Error kinds of §7's error
// taxonomy to HTTP status, in place of the teacher's single
// INTERNAL_ERROR fallback for every storage failure.
func writeStoreErr(w http.ResponseWriter, op string, err error) {
	switch {
	case enginetypes.IsKind(err, enginetypes.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrorCodeNotFound, op+": not found")
	case enginetypes.IsKind(err, enginetypes.ErrConflict):
		writeError(w, http.StatusConflict, ErrorCodeConflict, op+": conflict", err.Error())
	case enginetypes.IsKind(err, enginetypes.ErrInvalidInput):
		writeBadRequest(w, op+": "+err.Error())
	case enginetypes.IsKind(err, enginetypes.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, op+": store busy")
	default:
		writeInternal(w, err)
	}
}
