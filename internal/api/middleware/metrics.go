package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SpeedyCraftah/go-chat-app/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack passes through to the underlying writer so websocket
// upgrades work behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath normalizes paths to avoid high cardinality in metrics.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/dms/") && strings.HasSuffix(path, "/messages/fetch"):
		return "/api/dms/:id/messages/fetch"
	case strings.HasPrefix(path, "/api/dms/") && strings.HasSuffix(path, "/messages"):
		return "/api/dms/:id/messages"
	case strings.HasPrefix(path, "/api/dms/") && len(path) > len("/api/dms/"):
		return "/api/dms/:id"
	case strings.HasPrefix(path, "/api/users/") && strings.HasSuffix(path, "/dms/create"):
		return "/api/users/:id/dms/create"
	case strings.HasPrefix(path, "/api/users/") && len(path) > len("/api/users/"):
		return "/api/users/:id"
	case strings.HasPrefix(path, "/cdn/attachments/"):
		return "/cdn/attachments/:path"
	case strings.HasPrefix(path, "/api/dev/"):
		return "/api/dev/:path"
	}
	return path
}
