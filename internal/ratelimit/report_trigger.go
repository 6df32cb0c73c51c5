package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railzway-reports/internal/config"
	"go.uber.org/zap"
)

const keyReportTrigger = "reports:trigger:user:%s"

// ReportTriggerLimiter bounds how often one user may request report
// generation. Each accepted request may render a PDF and send an email.
type ReportTriggerLimiter struct {
	tokens *TokenBucket
	bucket Bucket
}

func NewReportTriggerLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *ReportTriggerLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}
	if client == nil {
		log.Warn("report trigger rate limit enabled but redis is not configured")
		return nil
	}
	bucket := Bucket{Rate: limitCfg.ReportTriggerRate, Burst: limitCfg.ReportTriggerBurst}
	if bucket.validate() != nil {
		log.Warn("report trigger rate limit disabled, rate and burst must be positive",
			zap.Float64("rate", limitCfg.ReportTriggerRate),
			zap.Int("burst", limitCfg.ReportTriggerBurst),
		)
		return nil
	}
	return &ReportTriggerLimiter{tokens: NewTokenBucket(client), bucket: bucket}
}

func (l *ReportTriggerLimiter) Enabled() bool {
	return l != nil && l.tokens != nil
}

func (l *ReportTriggerLimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.tokens.Allow(ctx, fmt.Sprintf(keyReportTrigger, strings.TrimSpace(userID)), l.bucket)
}
