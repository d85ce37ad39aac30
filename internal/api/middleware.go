package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sugreev38/v0-hospital-emr-software/internal/auth"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// corsMiddleware handles CORS headers
func (s *Service) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware adds security headers
func (s *Service) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware reuses the caller's request id or assigns one
func (s *Service) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logger.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs requests and responses
func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := monitoring.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		details := map[string]interface{}{}
		if traceID := monitoring.TraceIDFromContext(r.Context()); traceID != "" {
			details["trace_id"] = traceID
		}

		s.logger.HTTPRequest(r.Context(), r.Method, r.URL.Path, r.UserAgent(), r.RemoteAddr,
			rec.StatusCode(), time.Since(start).Milliseconds(), details)
	})
}

// authMiddleware resolves the caller. A missing bearer token leaves the
// request anonymous and the handler decides; a bad one is rejected here.
func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == s.healthPath || r.URL.Path == s.metricsPath {
			next.ServeHTTP(w, r)
			return
		}

		var principal auth.Principal
		switch {
		case s.tokens == nil:
			principal = auth.NewPrincipal(s.localUser)

		case r.Header.Get("Authorization") != "":
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				s.writeError(w, r, types.NewAuthenticationError(types.ErrCodeAuthenticationFailed, "invalid authorization header format"))
				return
			}

			claims, err := s.tokens.ValidateJWT(parts[1])
			if err != nil {
				s.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
				s.writeError(w, r, err)
				return
			}
			principal = auth.PrincipalFromClaims(claims)
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		if principal.IsAuthenticated() {
			ctx = logger.ContextWithUserID(ctx, principal.ID())
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware spends one token per request from the caller's
// bucket, keyed by user id or, for anonymous callers, by client address
func (s *Service) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == s.healthPath || r.URL.Path == s.metricsPath {
			next.ServeHTTP(w, r)
			return
		}

		key := auth.PrincipalFrom(r.Context()).ID()
		if key == "" {
			key = r.RemoteAddr
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			}
		}

		if !s.limiter.Allow(key) {
			s.logger.WithContext(r.Context()).WithField("caller", key).Warn("Rate limit exceeded")
			s.writeError(w, r, types.NewRateLimitError("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
