package graph

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_Engine(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	e := newDesignEngine(t, WithMetrics(metrics))
	ctx := context.Background()

	out := e.Start(ctx, "design a cache")
	cp := out.Checkpoint
	out = e.Resume(ctx, cp, "deep dive")
	out = e.Resume(ctx, out.Checkpoint, "done")
	requireStatus(t, out, StatusCompleted)
	_ = e.Resume(ctx, cp, "again")

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"suspensions", metrics.suspensions.WithLabelValues("design", "Verify"), 2},
		{"resumes", metrics.resumes.WithLabelValues("design"), 2},
		{"duplicate resumes", metrics.duplicateResumes.WithLabelValues("design"), 1},
		{"history appended", metrics.historyRecords.WithLabelValues("design", "appended"), 2},
		{"iterations", metrics.iterations.WithLabelValues("design"), 1},
		{"active sessions", metrics.activeSessions, 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	if n := testutil.CollectAndCount(metrics.stepLatency); n == 0 {
		t.Error("expected step latency observations")
	}
}

func TestPrometheusMetrics_Controls(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	metrics.Disable()
	metrics.IncrementResumes("g")
	if got := testutil.ToFloat64(metrics.resumes.WithLabelValues("g")); got != 0 {
		t.Errorf("disabled metrics recorded %v", got)
	}

	metrics.Enable()
	metrics.IncrementResumes("g")
	metrics.Reset()
	if got := testutil.ToFloat64(metrics.resumes.WithLabelValues("g")); got != 0 {
		t.Errorf("reset metrics still hold %v", got)
	}

	var nilMetrics *PrometheusMetrics
	nilMetrics.IncrementResumes("g")
	nilMetrics.SessionStarted()
}
