package middleware

import (
	"net/http"
	"time"

	"github.com/converse/internal/logger"
)

// RequestLog logs every HTTP request: method, path and duration (async, non-blocking).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(w, r)
	})
}
