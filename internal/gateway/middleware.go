// ABOUTME: HTTP middleware for CORS, access logging, and request metrics
// ABOUTME: statusRecorder keeps Flush working so SSE handlers can stream through it

package gateway

import (
	"net/http"
	"strings"
	"time"
)

// slowRequestThreshold marks non-streaming requests worth a warning.
const slowRequestThreshold = time.Second

// routeUnmatched labels requests that matched no registered pattern.
const routeUnmatched = "unmatched"

// withCORS answers preflight requests and sets CORS headers for allowed origins.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	allowed := g.config.Server.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin, allowed) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			// Clients adopt the resolved thread id from /assistant responses
			w.Header().Set("Access-Control-Expose-Headers", ThreadIDHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// withAccessLog logs every request and records it in metrics.
func (g *Gateway) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// ServeMux records the matched pattern on the request it was given
		route := routeLabel(r.Pattern)
		g.metrics.ObserveRequest(route, r.Method, rec.status, elapsed)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		}
		switch {
		case rec.status >= http.StatusInternalServerError:
			g.logger.Error("http request", attrs...)
		case elapsed > slowRequestThreshold && !rec.streamed:
			g.logger.Warn("slow http request", attrs...)
		default:
			g.logger.Debug("http request", attrs...)
		}
	})
}

// routeLabel strips the method from a ServeMux pattern ("GET /threads/{id}" -> "/threads/{id}").
func routeLabel(pattern string) string {
	if pattern == "" {
		return routeUnmatched
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	// streamed is set once the handler flushes, marking a long-lived response
	streamed bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer when it supports flushing.
func (r *statusRecorder) Flush() {
	r.streamed = true
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
