package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterMetrics(reg)
	LockAcquisitions.WithLabelValues("acquired").Inc()
	LockWaitSeconds.Observe(0.01)
	LockHoldSeconds.Observe(0.02)
	WorkFailures.WithLabelValues("work_failed").Inc()
	SessionsIssued.Inc()
	SessionsKicked.Inc()
	Logouts.Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 7 {
		t.Fatalf("expected 7 metric families, got %d", len(mfs))
	}
}

func TestRegisterMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterMetrics(reg)
}
