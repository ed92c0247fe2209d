package metrics_test

import (
	"testing"

	"github.com/m-lab/domain-kernel/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRegisteredAndObservable(t *testing.T) {
	metrics.PktRetryCount.WithLabelValues("success").Inc()
	metrics.RipRouteChurn.WithLabelValues("standard", "install").Inc()
	metrics.DirHintHitCount.WithLabelValues("hit").Inc()
	metrics.AppOverflowCount.WithLabelValues("file_overflow").Inc()
	metrics.AppDropCount.Inc()
	metrics.PktSarLatencyHistogram.Observe(0.001)
	metrics.DirDispatchLatencyHistogram.WithLabelValues("ok").Observe(0.001)
	metrics.RipTableSize.WithLabelValues("standard").Set(3)

	if got := testutil.ToFloat64(metrics.PktRetryCount.WithLabelValues("success")); got != 1 {
		t.Errorf("PktRetryCount = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.AppDropCount); got != 1 {
		t.Errorf("AppDropCount = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RipTableSize.WithLabelValues("standard")); got != 3 {
		t.Errorf("RipTableSize = %v, want 3", got)
	}
}
