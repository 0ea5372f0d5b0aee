// Package middleware provides the ingestion bridge between the HTTP layer
// and the monitoring core: a handler wrapper recording one request metric
// per completed request.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pantryos/kitchensight/pkg/monitoring"
)

// ErrorCodeHeader carries an application error code from a handler to the
// monitoring middleware. Handlers set it on error responses so breakdowns
// can group by application code instead of bare status.
const ErrorCodeHeader = "X-Error-Code"

type contextKey int

const userIDKey contextKey = iota

// WithUserID attaches the authenticated user's id to the request context so
// the middleware can record it. Called by the auth layer.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Monitoring returns mux middleware that records one RequestMetric per
// completed request, including panicking handlers (recorded as 500, panic
// re-raised). Recording failures are swallowed by the collector; the
// middleware can never fail the request it observes.
func Monitoring(collector *monitoring.Collector, logger *zap.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			record := func(status int) {
				duration := time.Since(start)
				metric := monitoring.RequestMetric{
					Timestamp:       time.Now().UTC(),
					Method:          r.Method,
					Path:            r.URL.Path,
					StatusCode:      status,
					DurationSeconds: duration.Seconds(),
					UserID:          userIDFrom(r.Context()),
					ErrorCode:       rec.Header().Get(ErrorCodeHeader),
				}
				_ = collector.RecordRequest(metric)

				logger.Info("request completed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Duration("duration", duration),
				)
			}

			defer func() {
				if rv := recover(); rv != nil {
					record(http.StatusInternalServerError)
					panic(rv)
				}
			}()

			next.ServeHTTP(rec, r)
			record(rec.status)
		})
	}
}
