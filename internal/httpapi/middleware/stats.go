package middleware

import (
	"net/http"
	"strings"
	"time"
)

// RequestRecorder is what StatsMiddleware feeds on every non-admin
// request — satisfied by stats.Tracker.
type RequestRecorder interface {
	Record(success bool, latencyMs uint64)
}

// ProxyLogger is what StatsMiddleware emits a structured log entry to —
// satisfied by events.Broadcaster.
type ProxyLogger interface {
	EmitProxy(method, path string, status int, durationMs int64, upstream string)
}

// ArchiveRecorder is the optional StatsArchive sink (SPEC_FULL.md §4.6);
// nil disables archival without affecting the hot path.
type ArchiveRecorder interface {
	// Submit enqueues a record asynchronously; it must never block.
	Submit(method, path string, status int, durationMs int64, upstream string, at time.Time)
}

// Stats wraps every proxied request with timing, outcome classification
// and log emission, per spec.md §4.6. Requests under /admin or /api/admin
// bypass it entirely so dashboard polling never perturbs statistics.
func Stats(tracker RequestRecorder, logger ProxyLogger, archive ArchiveRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isAdminPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(started)
			durationMs := duration.Milliseconds()
			success := sw.status >= 200 && sw.status < 400

			tracker.Record(success, uint64(durationMs))
			logger.EmitProxy(r.Method, r.URL.Path, sw.status, durationMs, sw.upstream)
			if archive != nil {
				archive.Submit(r.Method, r.URL.Path, sw.status, durationMs, sw.upstream, started)
			}
		})
	}
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, "/admin") || strings.HasPrefix(path, "/api/admin")
}

// statusWriter captures the status code written by downstream handlers and
// lets the dispatcher tag the response with the upstream account it used,
// via UpstreamHeader.
type statusWriter struct {
	http.ResponseWriter
	status   int
	upstream string
	wrote    bool
}

func (s *statusWriter) WriteHeader(status int) {
	if !s.wrote {
		s.status = status
		s.wrote = true
		s.upstream = s.Header().Get(UpstreamHeader)
		s.Header().Del(UpstreamHeader)
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

// UpstreamHeader is an internal response header the dispatcher sets to
// record which account serviced a request. Stats reads it and strips it
// from the client-visible response when the status is written.
const UpstreamHeader = "X-Acctgate-Upstream"
