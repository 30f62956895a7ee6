package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "railgate/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})

	t.Run("status mapping", func(t *testing.T) {
		cases := []struct {
			code   dErrors.Code
			status int
		}{
			{dErrors.CodeValidation, http.StatusBadRequest},
			{dErrors.CodeNotFound, http.StatusNotFound},
			{dErrors.CodeConflict, http.StatusConflict},
			{dErrors.CodeInvariantViolation, http.StatusConflict},
			{dErrors.CodeUnavailable, http.StatusServiceUnavailable},
			{dErrors.CodeInternal, http.StatusInternalServerError},
		}
		for _, tc := range cases {
			w := httptest.NewRecorder()
			WriteError(w, dErrors.New(tc.code, "boom"))
			if w.Code != tc.status {
				t.Fatalf("code %s: expected status %d, got %d", tc.code, tc.status, w.Code)
			}
		}
	})

	t.Run("uncoded error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, http.ErrBodyNotAllowed)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("decodes a valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"order-42"}`))

		got, ok := DecodeJSON[payload](w, r)
		if !ok {
			t.Fatalf("expected ok, response: %s", w.Body.String())
		}
		if got.Name != "order-42" {
			t.Fatalf("expected order-42, got %q", got.Name)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))

		if _, ok := DecodeJSON[payload](w, r); ok {
			t.Fatal("expected decode failure")
		}
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("rejects trailing data", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))

		if _, ok := DecodeJSON[payload](w, r); ok {
			t.Fatal("expected decode failure")
		}
	})
}
