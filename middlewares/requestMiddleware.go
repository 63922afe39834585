package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/sirupsen/logrus"
)

const CorrelationHeader = "X-Correlation-ID"

// RequestMiddleware stamps a correlation id and the client ip on the request
// context and writes one access log line per request.
func RequestMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationId := c.Request.Header.Get(CorrelationHeader)
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Header(CorrelationHeader, correlationId)

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		ctx = utils.SetClientIpInContext(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if logger == nil {
			return
		}
		fields := logrus.Fields{
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         c.Writer.Status(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"correlation_id": correlationId,
			"client_ip":      c.ClientIP(),
		}
		if orgId, ok := utils.GetOrgIdFromContext(c.Request.Context()); ok {
			fields["org_id"] = orgId
		}
		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case len(c.Errors) > 0:
			entry.Warn(c.Errors.String())
		default:
			entry.Info("request")
		}
	}
}
