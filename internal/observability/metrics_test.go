package observability_test

import (
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"escrowledger/internal/observability"
)

// NewMetrics registers into the default registry, so it may run at most once
// per test binary. Every test here shares this instance.
var metrics = observability.NewMetrics()

func TestSetChannelMetrics(t *testing.T) {
	metrics.SetChannelMetrics("persist", 25, 100)

	if got := promtestutil.ToFloat64(metrics.ChannelSize.WithLabelValues("persist")); got != 25 {
		t.Errorf("size: got %v, want 25", got)
	}
	if got := promtestutil.ToFloat64(metrics.ChannelCapacity.WithLabelValues("persist")); got != 100 {
		t.Errorf("capacity: got %v, want 100", got)
	}
	if got := promtestutil.ToFloat64(metrics.ChannelUtilization.WithLabelValues("persist")); got != 0.25 {
		t.Errorf("utilization: got %v, want 0.25", got)
	}

	// Later samples overwrite, never accumulate
	metrics.SetChannelMetrics("persist", 50, 100)
	if got := promtestutil.ToFloat64(metrics.ChannelSize.WithLabelValues("persist")); got != 50 {
		t.Errorf("size after update: got %v, want 50", got)
	}
}

func TestSetChannelMetrics_ZeroCapacity(t *testing.T) {
	// Unbuffered channel: utilization is left alone rather than divided by zero
	metrics.SetChannelMetrics("sync", 0, 0)

	if got := promtestutil.ToFloat64(metrics.ChannelCapacity.WithLabelValues("sync")); got != 0 {
		t.Errorf("capacity: got %v, want 0", got)
	}
	if got := promtestutil.ToFloat64(metrics.ChannelUtilization.WithLabelValues("sync")); got != 0 {
		t.Errorf("utilization: got %v, want 0", got)
	}
}
