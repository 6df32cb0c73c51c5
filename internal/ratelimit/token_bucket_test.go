package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildResultComputesRetryAfter(t *testing.T) {
	bucket := Bucket{Rate: 0.5, Burst: 3}

	res := buildResult(false, 0, 1_000, bucket)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, time.UnixMilli(1_000).Add(2*time.Second), res.ResetTime)

	res = buildResult(false, 0.75, 1_000, bucket)
	assert.Equal(t, 500*time.Millisecond, res.RetryAfter)
	assert.Equal(t, 0, res.Remaining)

	res = buildResult(true, 2.4, 1_000, bucket)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.RetryAfter)
	assert.Equal(t, 2, res.Remaining)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, Bucket{Rate: 0, Burst: 1}.ttl())
	assert.Equal(t, 12*time.Second, Bucket{Rate: 0.5, Burst: 3}.ttl())
	assert.Equal(t, time.Second, Bucket{Rate: 100, Burst: 1}.ttl())
}

func TestBucketValidate(t *testing.T) {
	assert.NoError(t, Bucket{Rate: 1.0 / 60, Burst: 3}.validate())
	assert.ErrorIs(t, Bucket{Rate: 0, Burst: 3}.validate(), ErrInvalidBucket)
	assert.ErrorIs(t, Bucket{Rate: 1, Burst: 0}.validate(), ErrInvalidBucket)
}

func TestScriptValueConversion(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(2), toInt(2.7))
	assert.Equal(t, int64(7), toInt("7"))
	assert.Equal(t, 1.5, toFloat("1.5"))
	assert.Equal(t, 0.0, toFloat("nope"))
	assert.Equal(t, 3.0, toFloat(int64(3)))
}

func TestTokenBucketRejectsInvalidInput(t *testing.T) {
	var tokens *TokenBucket
	_, err := tokens.Allow(context.Background(), "k", Bucket{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReportTriggerLimiterDisabled(t *testing.T) {
	log := zaptest.NewLogger(t)

	limiter := NewReportTriggerLimiter(config.Config{}, nil, log)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ReportTriggerRate: 1, ReportTriggerBurst: 1}}
	assert.Nil(t, NewReportTriggerLimiter(cfg, nil, log))
}
