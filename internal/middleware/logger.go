package middleware

import (
	"time"

	"credpool-go/internal/logging"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs every management API request with latency and status.
// Handlers may set "owner_id" and "provider" on the context to enrich the
// entry.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		extras := log.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": logging.DurationMS(time.Since(start)),
			"user_agent": c.Request.UserAgent(),
		}
		if owner, ok := c.Get("owner_id"); ok {
			extras["owner_id"] = owner
		}
		if provider, ok := c.Get("provider"); ok {
			extras["provider"] = provider
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
