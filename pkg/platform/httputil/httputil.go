// Package httputil provides shared JSON response and decoding helpers for
// HTTP handlers. Error responses carry a stable machine-readable code; the
// human-readable description is omitted for internal errors so infrastructure
// detail never leaks to callers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "railgate/pkg/domain-errors"
)

// maxBodyBytes caps inbound JSON bodies. Rail callbacks and intent requests
// are small; anything larger is abuse.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded error onto an HTTP status and a stable wire code.
// Internal errors omit the description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: wireCode(code)}
	if code != dErrors.CodeInternal {
		resp.Description = errorMessage(err)
	}
	WriteJSON(w, statusFor(code), resp)
}

// DecodeJSON decodes the request body into T. On failure it writes a
// bad_request response and returns ok=false; the handler should just return.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body"))
		return req, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unexpected trailing data"))
		return req, false
	}
	return req, true
}

// ReadBody reads a raw request body for payloads that are parsed downstream
// (rail callbacks). On failure it writes a bad_request response.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "read body"))
		return nil, false
	}
	return payload, true
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeInvariantViolation:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func wireCode(code dErrors.Code) string {
	if code == dErrors.CodeInternal {
		return "internal_error"
	}
	return string(code)
}

// errorMessage returns the outermost coded message, falling back to the full
// error text for uncoded errors.
func errorMessage(err error) string {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}
