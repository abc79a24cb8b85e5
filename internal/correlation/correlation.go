// Package correlation provides request correlation ID handling.
package correlation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// HeaderName is the HTTP header for correlation IDs.
const HeaderName = "X-Correlation-ID"

// Middleware reuses the caller's correlation ID or creates one, stores it in
// the request context and echoes it in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(HeaderName)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(HeaderName, correlationID)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), correlationID)))
	})
}

// GetID retrieves the correlation ID from context.
func GetID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithID adds a correlation ID to the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// Logger returns logger annotated with the correlation ID of ctx, if any.
func Logger(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := GetID(ctx); id != "" {
		return logger.With("correlation_id", id)
	}
	return logger
}

// Transport forwards the correlation ID of each request's context to the
// upstream service.
type Transport struct {
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if id := GetID(req.Context()); id != "" && req.Header.Get(HeaderName) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(HeaderName, id)
	}
	return base.RoundTrip(req)
}
