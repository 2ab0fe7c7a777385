package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/sirupsen/logrus"
)

type contextKey string

const TraceKey contextKey = "trace"

type TraceInfo struct {
	RequestID string
	StartTime time.Time
	UserAgent string
	RemoteIP  string
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if !lrw.wroteHeader {
		lrw.WriteHeader(http.StatusOK)
	}
	size, err := lrw.ResponseWriter.Write(b)
	lrw.responseSize += int64(size)
	return size, err
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if lrw.wroteHeader {
		return
	}
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
	lrw.wroteHeader = true
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware assigns a request id, attaches a request scoped logger
// to the context and recovers panics into a well-formed error body.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}

		traceInfo := &TraceInfo{
			RequestID: requestID,
			StartTime: time.Now(),
			UserAgent: r.UserAgent(),
			RemoteIP:  r.RemoteAddr,
		}

		w.Header().Set("X-Request-ID", traceInfo.RequestID)

		entry := logrus.WithFields(logrus.Fields{
			"request_id": traceInfo.RequestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"remote_ip":  traceInfo.RemoteIP,
			"user_agent": traceInfo.UserAgent,
		})

		ctx := context.WithValue(r.Context(), TraceKey, traceInfo)
		ctx = logger.WithContext(ctx, entry)
		r = r.WithContext(ctx)

		entry.Debug("Request started")

		lrw := newLoggingResponseWriter(w)

		defer func() {
			if rec := recover(); rec != nil {
				err := errors.Internal("LoggingMiddleware", fmt.Errorf("%v", rec), "Panic recovered")
				entry.WithError(err).WithField("stack", string(debug.Stack())).Error("Panic in handler")
				if !lrw.wroteHeader {
					lrw.Header().Set("Content-Type", "application/json")
					lrw.WriteHeader(http.StatusInternalServerError)
					lrw.Write([]byte(`{"status":"error","code":"Internal","message":"Internal server error"}`))
				}
			}

			fields := logrus.Fields{
				"status":   lrw.statusCode,
				"duration": time.Since(traceInfo.StartTime),
				"size":     lrw.responseSize,
			}
			done := entry.WithFields(fields)

			switch {
			case lrw.statusCode >= 500:
				done.Error("Request completed with server error")
			case lrw.statusCode >= 400:
				done.Warn("Request completed with client error")
			default:
				done.Info("Request completed successfully")
			}
		}()

		next.ServeHTTP(lrw, r)
	})
}

func GetTraceInfo(ctx context.Context) *TraceInfo {
	if trace, ok := ctx.Value(TraceKey).(*TraceInfo); ok {
		return trace
	}
	return nil
}

// RequestID returns the id assigned by LoggingMiddleware, or "".
func RequestID(ctx context.Context) string {
	if trace := GetTraceInfo(ctx); trace != nil {
		return trace.RequestID
	}
	return ""
}
