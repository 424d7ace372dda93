package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: http.StatusOK},
		{name: "config error", err: ConfigError("bad").Build(), expected: http.StatusBadRequest},
		{name: "cyclic variable", err: CyclicVariable("x").Build(), expected: http.StatusUnprocessableEntity},
		{name: "write failed", err: WriteFailed("x").Build(), expected: http.StatusServiceUnavailable},
		{name: "already running", err: AlreadyRunning("x").Build(), expected: http.StatusConflict},
		{name: "daemon stopping", err: DaemonError("x").Build(), expected: http.StatusServiceUnavailable},
		{name: "unclassified", err: errors.New("x"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.StatusCodeFor(tt.err); got != tt.expected {
				t.Errorf("StatusCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	err := CyclicVariable("cyclic variable reference").WithContext("cycle", "x -> y -> x").Build()
	adapter.WriteErrorResponse(rec, req, err)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp HTTPErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != string(CodeCyclicVariable) || resp.Category != string(CategoryVariables) {
		t.Errorf("unexpected payload %+v", resp)
	}
	if resp.Details["cycle"] != "x -> y -> x" {
		t.Errorf("expected cycle detail, got %+v", resp.Details)
	}
}
