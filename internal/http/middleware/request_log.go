package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}
		event = event.
			Str("method", strings.ToUpper(c.Request.Method)).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds())
		if id := RequestIDFrom(c); id != "" {
			event = event.Str("request_id", id)
		}
		if principal, ok := MustPrincipal(c); ok {
			event = event.Uint("user_id", principal.UserID)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("HTTP request")
	}
}
