package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ScrapeLogger logs each hit on the observability endpoints with the process
// role attached. Prometheus scrapes of /metrics arrive every few seconds and
// log at trace; health checks at debug. Unknown paths warn and server errors
// log at error.
func ScrapeLogger(logger zerolog.Logger, role string) gin.HandlerFunc {
	logger = logger.With().Str("role", role).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		endpoint := c.FullPath()

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case endpoint == "":
			event = logger.Warn().Str("path", c.Request.URL.Path)
			endpoint = "unmatched"
		case endpoint == "/metrics":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}

		event.
			Str("endpoint", endpoint).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("took", time.Since(start)).
			Str("remote", c.ClientIP()).
			Msg("observability.scrape")
	}
}
