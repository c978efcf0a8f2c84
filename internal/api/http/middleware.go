package apihttp

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"chemsearch/searchservice/internal/metrics"
)

const (
	maxTrackedClients = 4096
	clientLimiterTTL  = 10 * time.Minute
)

// statusRecorder captures the status and size of a response. It forwards
// Flush so session streams keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := normalizeRoute(r.URL.Path)
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			slog.Int64("durationMs", time.Since(startedAt).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if id := sessionIDFromPath(r.URL.Path); id != "" {
			attrs = append(attrs, slog.String("session", id))
		}
		if name := firstNonEmpty(r.URL.Query().Get("q"), r.URL.Query().Get("name")); name != "" {
			attrs = append(attrs, slog.String("compound", truncate(name, 80)))
		}
		logger.LogAttrs(r.Context(), requestLogLevel(route, rec.status), "request served", attrs...)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			logger.Error("handler panicked",
				slog.Any("panic", recovered),
				slog.String("method", r.Method),
				slog.String("route", normalizeRoute(r.URL.Path)),
				slog.String("stack", string(debug.Stack())),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware counts every request. Session streams are left out of
// the latency histogram since they stay open for as long as the client
// watches.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		startedAt := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		if route != "/sessions/{id}/stream" {
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(startedAt).Seconds())
		}
	})
}

// rateLimitMiddleware gives each client IP its own token bucket. Idle
// buckets expire so the table stays bounded.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	limiters := lru.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientLimiterTTL)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		limiter, ok := limiters.Get(ip)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters.Add(ip, limiter)
		}
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalizeRoute(path string) string {
	switch path {
	case "/health", "/metrics", "/compounds/suggest", "/compounds/lookup", "/lookup/health":
		return path
	case "/sessions", "/sessions/":
		return "/sessions"
	}
	switch {
	case strings.HasPrefix(path, "/sessions/"):
		parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/sessions/"), "/"), "/")
		if len(parts) == 1 {
			return "/sessions/{id}"
		}
		if len(parts) == 2 {
			switch parts[1] {
			case "query", "select", "submit", "stream":
				return "/sessions/{id}/" + parts[1]
			}
		}
		return "/other"
	case strings.HasPrefix(path, "/compounds/") && strings.HasSuffix(path, "/preview"):
		return "/compounds/{cid}/preview"
	default:
		return "/other"
	}
}

func sessionIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/sessions/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}

func requestLogLevel(route string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case route == "/health", route == "/metrics", route == "/sessions/{id}/stream", route == "/sessions/{id}":
		// Polled or long-lived; too noisy for info.
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// truncate shortens value to at most limit bytes plus an ellipsis, cutting
// on a rune boundary.
func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + "..."
}
