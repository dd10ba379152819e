package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/shotguess/internal/logger"
)

// Logger returns a Gin middleware that injects a request-scoped logger.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := logger.WithFields(c.Request.Context(), logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()

		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}

		entry := logger.With(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(ctx, "Request completed: method=%s, path=%s, errors=%s", c.Request.Method, fullPath, c.Errors.String())
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
	}
}
