package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicedesk/internal/observability/logger"
	"go.uber.org/zap"
)

// SendRateLimit throttles endpoints that dispatch email, keyed by the calling API key.
// Redis failures let the request through.
func (s *Server) SendRateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.sendLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.sendLimiter.Allow(ctx, endpoint, callerKeyID(c))
		if err != nil {
			logger.FromContext(ctx).Warn("send rate limit check failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("send rate limit exceeded", zap.String("endpoint", endpoint))
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
