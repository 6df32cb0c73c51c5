package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewLedgerMetricsForRegistry(registry, obsmetrics.Config{
		ServiceName: "railzway-reports",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), metrics: metrics}
	err = s.runJob(context.Background(), "timeout_job", "", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "railzway-reports",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "railzway_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "railzway-reports",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "railzway_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestDueWindowEnd(t *testing.T) {
	cases := []struct {
		now  time.Time
		days int
		want time.Time
	}{
		{time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), 7, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 14, 23, 59, 0, 0, time.UTC), 7, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 7, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), 1, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), 0, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := dueWindowEnd(tc.now, tc.days); !got.Equal(tc.want) {
			t.Fatalf("dueWindowEnd(%s, %d) = %s, want %s", tc.now, tc.days, got, tc.want)
		}
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
