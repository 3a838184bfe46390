package obs

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// Middleware carries the gin handlers for request ids, access logs and HTTP
// metrics.
type Middleware struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// Quiet lists routes that are measured but not logged, e.g. probes.
	Quiet []string
}

func (m Middleware) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// LoggerMiddleware logs one line per request: errors for 5xx, warnings for
// 4xx and info otherwise.
func (m Middleware) LoggerMiddleware() gin.HandlerFunc {
	quiet := make(map[string]bool, len(m.Quiet))
	for _, route := range m.Quiet {
		quiet[route] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m.Metrics != nil {
			m.Metrics.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status), elapsed)
		}
		if m.Logger == nil || quiet[route] {
			return
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		m.Logger.LogAttrs(c.Request.Context(), level, "http",
			slog.String("method", c.Request.Method),
			slog.String("path", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", RequestIDFromContext(c.Request.Context())),
		)
	}
}

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
