package apierrors

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFromError(t *testing.T) {
	verr := &model.ValidationError{}
	verr.Add("accountId", "must be exactly 12 digits")

	tests := []struct {
		name string
		err  error
		code string
		want int
	}{
		{"validation", fmt.Errorf("create: %w", verr), "VALIDATION_ERROR", http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("customer DE1: %w", repository.ErrNotFound), "NOT_FOUND", http.StatusNotFound},
		{"conflict", fmt.Errorf("%w: pair exists", repository.ErrConflict), "CONFLICT", http.StatusConflict},
		{"unavailable", fmt.Errorf("dashboard: %w", repository.ErrUnavailable), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
		{"unsupported", fmt.Errorf("apply: %w", errors.ErrUnsupported), "NOT_IMPLEMENTED", http.StatusNotImplemented},
		{"api error", NewBadRequestError("bad"), "BAD_REQUEST", http.StatusBadRequest},
		{"other", errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got.StatusCode != tt.want || got.Code != tt.code {
				t.Fatalf("got %d %s, want %d %s", got.StatusCode, got.Code, tt.want, tt.code)
			}
		})
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	got := FromError(errors.New("pq: password authentication failed"))
	if strings.Contains(got.Message, "password") {
		t.Fatalf("internal detail leaked: %q", got.Message)
	}
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
