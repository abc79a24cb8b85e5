package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finopsmind/billing/internal/apierrors"
	"github.com/finopsmind/billing/internal/correlation"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/service"
)

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a service error to its API error and writes it. Internal
// errors are logged with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var apiErr *apierrors.APIError
	if errors.Is(err, service.ErrConfigurationExists) {
		apiErr = apierrors.NewConfigurationExistsError("", "")
	} else {
		apiErr = apierrors.FromError(err)
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		correlation.Logger(r.Context(), logger).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	apiErr.Write(w, r)
}

// decode reads a JSON body into v. It writes a 400 and returns false on
// malformed input.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apierrors.NewBadRequestError("invalid request body").Write(w, r)
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		apierrors.NewBadRequestError("invalid " + name).Write(w, r)
		return uuid.Nil, false
	}
	return id, true
}

// periodParam reads the optional billingPeriod query parameter.
func periodParam(w http.ResponseWriter, r *http.Request) (model.BillingPeriod, bool) {
	raw := r.URL.Query().Get("billingPeriod")
	if raw == "" {
		return "", true
	}
	p, err := model.ParseBillingPeriod(raw)
	if err != nil {
		apierrors.NewValidationError("invalid query parameter",
			map[string]string{"billingPeriod": "must be YYYY-MM"}).Write(w, r)
		return "", false
	}
	return p, true
}

// list wraps a slice in the {data: [...]} envelope, never emitting null.
func list[T any](items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{"data": items}
}
