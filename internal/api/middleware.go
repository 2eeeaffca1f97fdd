package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/go-chi/chi/v5/middleware"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := logging.Fields{
			Component: "api",
			RequestID: middleware.GetReqID(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Addr:      r.RemoteAddr,
			Status:    strconv.Itoa(ww.Status()),
			Duration:  time.Since(start).Milliseconds(),
		}
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			logging.Debug("http_request", fields)
			return
		}
		logging.Info("http_request", fields)
	})
}
