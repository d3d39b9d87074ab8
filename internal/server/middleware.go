package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mealtrack/internal/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID returns the request ID stored in the context, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestContext adds security headers, rate limiting, and request
// logging around a handler.
func (s *Server) withRequestContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		s.logger.InfoContext(ctx, "Request started",
			log.FieldRequestID, requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		// Writes are rate limited per client; reads are not.
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				log.FieldRequestID, requestID, "client_ip", clientIP)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.logger.InfoContext(ctx, "Request completed",
			log.FieldRequestID, requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
