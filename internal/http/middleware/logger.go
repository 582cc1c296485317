package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/urbanease-realtime/internal/logging"
)

// Logger writes one structured line per request. Server errors log at error
// level, client errors at warn, everything else at debug.
func Logger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logging.Error()
		case status >= 400:
			event = logging.Warn()
		default:
			event = logging.Debug()
		}

		event.
			Str("request_id", ctx.GetString(requestIDKey)).
			Str("method", ctx.Request.Method).
			Str("path", ctx.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", ctx.ClientIP())
		if len(ctx.Errors) > 0 {
			event.Str("errors", ctx.Errors.String())
		}
		event.Msg("http request")
	}
}
