package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mediafetch/backend/internal/logger"
)

var log = logger.WithComponent("http")

// Timing adds a Server-Timing header and warns about requests slower than
// slow. Resolutions legitimately take seconds, so callers pick the bound.
func Timing(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			tw := &timingWriter{ResponseWriter: w, start: start, status: http.StatusOK}

			next.ServeHTTP(tw, r)

			if d := time.Since(start); slow > 0 && d > slow {
				log.Warn(r.Context(), "slow request", map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      tw.status,
					"duration_ms": d.Milliseconds(),
				})
			}
		})
	}
}

// timingWriter sets Server-Timing just before the headers go out
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.status = code
		w.Header().Set("Server-Timing", serverTiming(time.Since(w.start)))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func serverTiming(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000
	return "app;dur=" + strconv.FormatFloat(ms, 'f', 2, 64)
}
