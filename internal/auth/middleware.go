package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/finopsmind/billing/internal/apierrors"
)

type contextKey int

const claimsContextKey contextKey = iota

// anonymous is used when authentication is disabled.
var anonymous = &Claims{Subject: "anonymous", Email: "anonymous@local", Role: RoleAdmin}

// Middleware validates the Bearer token of each request and stores its
// claims in the context. A nil verifier disables authentication.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), anonymous)))
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				apierrors.NewUnauthorizedError("missing authorization header").Write(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				apierrors.NewUnauthorizedError("unsupported authorization scheme").Write(w, r)
				return
			}
			claims, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				apierrors.NewUnauthorizedError("invalid or expired token").Write(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole restricts access to callers whose role is in allowed.
func RequireRole(allowed ...Role) func(http.Handler) http.Handler {
	allowedSet := make(map[Role]bool, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.NewUnauthorizedError("authentication required").Write(w, r)
				return
			}
			if !allowedSet[claims.Role] {
				apierrors.NewForbiddenError("insufficient permissions").Write(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaimsFromContext extracts the Claims stored by the middleware.
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// UserEmail returns the caller's e-mail, used as createdBy on deposits.
func UserEmail(ctx context.Context) string {
	if c := GetClaimsFromContext(ctx); c != nil {
		if c.Email != "" {
			return c.Email
		}
		return c.Subject
	}
	return ""
}
