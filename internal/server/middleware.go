package server

import (
	"time"

	"github.com/gin-gonic/gin"

	logx "github.com/chative-relay/server/pkg/logger"
)

// RequestLogger logs one line per request through zerolog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logx.Info()
		if status >= 500 {
			evt = logx.Error()
		} else if status >= 400 {
			evt = logx.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
