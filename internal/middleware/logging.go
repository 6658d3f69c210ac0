package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql"
)

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per HTTP request.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", float64(time.Since(start).Microseconds())/1000,
				"remote", r.RemoteAddr)
		})
	}
}

// OperationLoggerExtension logs each GraphQL operation with its duration and
// error count.
type OperationLoggerExtension struct {
	Logger *slog.Logger
}

var (
	_ graphql.HandlerExtension    = OperationLoggerExtension{}
	_ graphql.ResponseInterceptor = OperationLoggerExtension{}
)

func (OperationLoggerExtension) ExtensionName() string {
	return "OperationLogger"
}

func (OperationLoggerExtension) Validate(graphql.ExecutableSchema) error {
	return nil
}

func (e OperationLoggerExtension) InterceptResponse(ctx context.Context, next graphql.ResponseHandler) *graphql.Response {
	start := time.Now()
	resp := next(ctx)

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := ""
	if graphql.HasOperationContext(ctx) {
		name = graphql.GetOperationContext(ctx).OperationName
	}
	errCount := 0
	if resp != nil {
		errCount = len(resp.Errors)
	}
	level := slog.LevelInfo
	if errCount > 0 {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "graphql operation",
		"operation", name,
		"errors", errCount,
		"duration_ms", float64(time.Since(start).Microseconds())/1000)
	return resp
}
