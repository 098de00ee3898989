package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/strandlabs/strand/internal/auth"
	"github.com/strandlabs/strand/internal/observability"
)

// authenticate resolves the caller. With auth disabled every request runs
// as the anonymous user; otherwise a valid token is required, taken from the
// Authorization header or the token query parameter (EventSource clients
// cannot set headers).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			s.jsonError(w, "missing token", http.StatusUnauthorized)
			return
		}

		user, err := s.auth.Validate(token)
		if err != nil {
			s.jsonError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// instrument wraps a route with a server span and request metrics, labeled
// by the route pattern so cardinality stays bounded.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	method, route, _ := strings.Cut(pattern, " ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.StartHTTPRequest(r.Context(), method, route)
		defer span.End()
		if id := observability.GetTraceID(ctx); id != "" {
			w.Header().Set("X-Trace-Id", id)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.metrics.RecordHTTPRequest(method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
		s.tracer.SetAttributes(span, "http.status_code", rec.status)
	})
}

// statusRecorder captures the response code while keeping the flusher
// visible to the SSE handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
