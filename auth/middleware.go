package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/telemetry"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "authorization-key"

// ContextKey is used for storing auth data in context.
type ContextKey string

const (
	// ClaimsContextKey is the context key for JWT claims.
	ClaimsContextKey ContextKey = "claims"
	// SubjectContextKey is the context key for the token subject.
	SubjectContextKey ContextKey = "subject"
)

// Middleware requires the shared-secret header and a valid bearer token.
// Rejections are answered with 401 and, when audit is set, audited.
func Middleware(apiKey string, jwtManager *JWTManager, audit *logging.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deny := func(reason string) {
				audit.LogFromRequest(r, logging.AuditEventAuthDenied, nil, nil, logging.AuditOutcomeDenied,
					map[string]any{"reason": reason})
				errors.WriteError(w, errors.Unauthorized(reason), telemetry.TraceID(r.Context()))
			}

			if !validAPIKey(r.Header.Get(APIKeyHeader), apiKey) {
				deny("invalid authorization key")
				return
			}

			tokenString, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny("missing bearer token")
				return
			}

			claims, err := jwtManager.ValidateToken(tokenString)
			if err != nil {
				if err == ErrTokenExpired {
					deny("token expired")
				} else {
					deny("invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, SubjectContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validAPIKey(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetClaimsFromContext retrieves claims from context.
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}

// SubjectFromContext returns the authenticated subject, or "".
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(SubjectContextKey).(string)
	return subject
}

// WithClaims adds claims to the context. Useful for testing.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsContextKey, claims)
	return context.WithValue(ctx, SubjectContextKey, claims.Subject)
}
