package server

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"go.uber.org/zap"
)

const rateLimitReasonUserRate = "user-rate"

// ReportTriggerRateLimit bounds manual report triggers per user. Redis
// errors fail closed.
func (s *Server) ReportTriggerRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.reportLimiter.Enabled() {
			c.Next()
			return
		}

		userID := subjectFromContext(c)
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.reportLimiter.Allow(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("report trigger rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			denyReportTrigger(c, endpoint, res.RetryAfter, s.obsMetrics)
			return
		}

		recordRateLimit(ctx, endpoint, "allowed", s.obsMetrics)
		c.Next()
	}
}

func denyReportTrigger(c *gin.Context, endpoint string, retryAfter time.Duration, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("report trigger rate limit exceeded",
		zap.String("reason", rateLimitReasonUserRate),
		zap.String("endpoint", endpoint),
	)
	recordRateLimit(ctx, endpoint, "denied", metrics)

	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header("X-Rate-Limited-Reason", rateLimitReasonUserRate)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimit(ctx context.Context, endpoint, outcome string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimit(ctx, endpoint, outcome)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
