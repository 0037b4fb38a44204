package prometheus

import (
	"context"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/Swind/go-vthread/core"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("vthread", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("sched-a", "completed", 250*time.Millisecond)
	exporter.RecordTaskPanic("sched-a", "panic")
	exporter.RecordQueueDepth("sched-a", "global", 7)
	exporter.RecordQueueDepth("sched-a", "local", 3)
	exporter.RecordTaskRejected("sched-a", "shutting down")
	exporter.RecordPinned("sched-a", 2*time.Millisecond, false)
	exporter.RecordPinned("sched-a", 300*time.Millisecond, true)
	exporter.RecordSteal("sched-a")

	panicTotal := testutil.ToFloat64(exporter.taskPanicTotal.WithLabelValues("sched-a"))
	if panicTotal != 1 {
		t.Fatalf("panic total = %v, want 1", panicTotal)
	}

	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("sched-a", "global")); got != 7 {
		t.Fatalf("global queue depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("sched-a", "local")); got != 3 {
		t.Fatalf("local queue depth = %v, want 3", got)
	}

	rejected := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("sched-a", "shutting down"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("sched-a", "completed"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}

	pinnedCount, err := histogramSampleCount(exporter.pinnedSeconds.WithLabelValues("sched-a"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if pinnedCount != 2 {
		t.Fatalf("pinned sample count = %d, want 2", pinnedCount)
	}
	if got := testutil.ToFloat64(exporter.pinViolationsTotal.WithLabelValues("sched-a")); got != 1 {
		t.Fatalf("pinning violations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.stealTotal.WithLabelValues("sched-a")); got != 1 {
		t.Fatalf("steal total = %v, want 1", got)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("vthread", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("vthread", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskPanic("sched-a", nil)
	second.RecordTaskPanic("sched-a", nil)

	got := testutil.ToFloat64(first.taskPanicTotal.WithLabelValues("sched-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

func TestMetricsExporter_NilSafe(t *testing.T) {
	var m *MetricsExporter
	m.RecordTaskDuration("x", "completed", time.Second)
	m.RecordTaskPanic("x", nil)
	m.RecordQueueDepth("x", "global", 1)
	m.RecordTaskRejected("x", "r")
	m.RecordPinned("x", time.Second, true)
	m.RecordSteal("x")
}

// TestMetricsExporter_WithScheduler wires the exporter into a live scheduler
// Given: A scheduler whose Metrics is the exporter
// When: Tasks complete, fail and run pinned
// Then: The collectors reflect each outcome
func TestMetricsExporter_WithScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("vthread", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Name = "wired"
	cfg.WorkerCount = 2
	cfg.Logger = core.NewNoOpLogger()
	cfg.Metrics = exporter
	s, err := core.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var mu sync.Mutex
	var handles []*core.Handle
	for i := range 10 {
		h, err := s.Submit(func(ctx context.Context) (any, error) {
			if i%5 == 0 {
				return nil, context.DeadlineExceeded
			}
			return nil, core.LockPinned(ctx, &mu, func() error { return nil })
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		<-h.Done()
	}
	if err := s.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	completed, _ := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("wired", "completed"))
	failed, _ := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("wired", "failed"))
	pinned, _ := histogramSampleCount(exporter.pinnedSeconds.WithLabelValues("wired"))
	if completed != 8 || failed != 2 || pinned != 8 {
		t.Fatalf("completed/failed/pinned = %d/%d/%d, want 8/2/8", completed, failed, pinned)
	}

	if n, err := testutil.GatherAndCount(reg, "vthread_task_duration_seconds"); err != nil || n != 2 {
		t.Fatalf("GatherAndCount = %d, %v, want 2 series", n, err)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
