package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/infragate/internal/ctxkey"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
)

// identityContextKey is the type for the authenticated identity context key.
type identityContextKey struct{}

// Authenticator resolves an Authorization header value to an identity.
// *auth.APIKeyService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*auth.Identity, error)
}

var _ Authenticator = (*auth.APIKeyService)(nil)

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using ctxkey.RequestIDKey so the audit
// trail can carry it. An enriched logger is stored using ctxkey.LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID, "client_ip", extractRealIP(r))

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// IdentityFromContext returns the identity stored by AuthMiddleware.
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*auth.Identity)
	return id, ok && id != nil
}

// DNSRebindingProtection validates Origin header against an allowlist.
// If allowedOrigins is empty, all requests with an Origin header are blocked (local-only mode).
// Requests without an Origin header are allowed (same-origin or non-browser).
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				respondError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware requires a valid bearer API key. The resolved identity is
// stored in context for IdentityFromContext.
func AuthMiddleware(authn Authenticator) func(http.Handler) http.Handler {
	return authMiddleware(authn, nil)
}

// authMiddleware is AuthMiddleware with an optional failed-attempt throttle.
func authMiddleware(authn Authenticator, limiter *authFailureLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if limiter != nil {
				if blocked, retry := limiter.blocked(ip); blocked {
					LoggerFromContext(r.Context()).Warn("authentication throttled", "client_ip", ip)
					writeRetryAfter(w, retry)
					return
				}
			}

			identity, err := authn.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				logger := LoggerFromContext(r.Context())
				if errors.Is(err, auth.ErrMissingCredentials) {
					logger.Debug("request without credentials", "path", r.URL.Path)
				} else {
					logger.Warn("authentication failed", "path", r.URL.Path, "error", err)
					if limiter != nil {
						limiter.fail(ip)
					}
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="infragate"`)
				respondError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, LoggerFromContext(ctx).With(
				"identity_id", identity.ID,
				"role", identity.Role,
			))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractRealIP extracts the client's real IP address from the request.
// Only the first X-Forwarded-For entry is used.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
