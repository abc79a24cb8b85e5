// Package apierrors provides structured API error handling.
package apierrors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/finopsmind/billing/internal/correlation"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// APIError represents a structured API error.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Write writes the error response.
func (e *APIError) Write(w http.ResponseWriter, r *http.Request) {
	e.RequestID = correlation.GetID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(e)
}

// Common errors

func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewNotFoundError(message string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(message string) *APIError {
	return &APIError{
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewConfigurationExistsError rejects a second exchange rate for the same
// payer account and billing period. Clients should update the existing one.
func NewConfigurationExistsError(payerAccountID string, period model.BillingPeriod) *APIError {
	return &APIError{
		Code:       "CONFIGURATION_EXISTS",
		Message:    "an exchange rate for this payer account and billing period already exists; update it instead",
		StatusCode: http.StatusConflict,
		Details:    map[string]string{"payerAccountId": payerAccountID, "billingPeriod": string(period)},
	}
}

func NewValidationError(message string, details any) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

func NewInternalError(message string) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func NewServiceUnavailableError(service string) *APIError {
	return &APIError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    service + " is temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
}

// FromError converts an error returned by the service layer to an APIError.
// Validation problems are never reported as 500s.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return NewValidationError("validation failed", verr.Fields)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return NewNotFoundError(err.Error())
	case errors.Is(err, repository.ErrConflict):
		return NewConflictError(err.Error())
	case errors.Is(err, repository.ErrUnavailable):
		return NewServiceUnavailableError("billing backend")
	case errors.Is(err, errors.ErrUnsupported):
		return &APIError{Code: "NOT_IMPLEMENTED", Message: err.Error(), StatusCode: http.StatusNotImplemented}
	}
	return NewInternalError("An unexpected error occurred")
}

// Recoverer turns panics into a JSON 500 and logs them.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					correlation.Logger(r.Context(), logger).Error("panic serving request",
						"method", r.Method, "path", r.URL.Path, "panic", rec)
					NewInternalError("Internal server error").Write(w, r)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
