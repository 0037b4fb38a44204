package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-vthread/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	PinnedBuckets   []float64
}

// DefaultPinnedBuckets covers pinned regions from 100µs to 5s.
var DefaultPinnedBuckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .25, .5, 1, 5}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	pinnedSeconds       *prom.HistogramVec
	pinViolationsTotal  *prom.CounterVec
	stealTotal          *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "vthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	pinnedBuckets := opts.PinnedBuckets
	if len(pinnedBuckets) == 0 {
		pinnedBuckets = DefaultPinnedBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task wall time from submission to completion in seconds.",
		Buckets:   buckets,
	}, []string{"scheduler", "outcome"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"scheduler"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"scheduler", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Runnable tasks waiting in the global queue or in carrier deques.",
	}, []string{"scheduler", "scope"})
	pinnedVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "pinned_seconds",
		Help:      "Length of pinned regions in seconds.",
		Buckets:   pinnedBuckets,
	}, []string{"scheduler"})
	violationsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pinning_violations_total",
		Help:      "Pinned regions longer than the pinned threshold.",
	}, []string{"scheduler"})
	stealVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steal_total",
		Help:      "Tasks taken from another carrier's deque.",
	}, []string{"scheduler"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if pinnedVec, err = registerCollector(reg, pinnedVec); err != nil {
		return nil, err
	}
	if violationsVec, err = registerCollector(reg, violationsVec); err != nil {
		return nil, err
	}
	if stealVec, err = registerCollector(reg, stealVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		pinnedSeconds:       pinnedVec,
		pinViolationsTotal:  violationsVec,
		stealTotal:          stealVec,
	}, nil
}

// RecordTaskDuration records task wall time by outcome.
func (m *MetricsExporter) RecordTaskDuration(schedulerName string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(outcome, "unknown")).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(schedulerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, scope string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(scope, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordPinned records a finished pinned region.
func (m *MetricsExporter) RecordPinned(schedulerName string, duration time.Duration, violation bool) {
	if m == nil {
		return
	}
	name := normalizeLabel(schedulerName, "unknown")
	m.pinnedSeconds.WithLabelValues(name).Observe(duration.Seconds())
	if violation {
		m.pinViolationsTotal.WithLabelValues(name).Inc()
	}
}

// RecordSteal records a successful steal.
func (m *MetricsExporter) RecordSteal(schedulerName string) {
	if m == nil {
		return
	}
	m.stealTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
