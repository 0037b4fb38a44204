package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-vthread/core"
)

// StatsProvider provides current scheduler stats snapshots.
// *core.Scheduler implements it.
type StatsProvider interface {
	Stats() core.Stats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into
// Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	providersMu sync.RWMutex
	providers   map[string]StatsProvider

	tasks      *prom.GaugeVec // by state
	counts     *prom.GaugeVec // lifetime counters by kind
	workers    *prom.GaugeVec
	active     *prom.GaugeVec
	pinnedSecs *prom.GaugeVec
	permits    *prom.GaugeVec
	closed     *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "vthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	tasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks",
		Help:      "Live tasks per state (runnable, running, suspended, pinned, in_flight).",
	}, []string{"scheduler", "state"})
	counts := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Scheduler lifetime counter snapshot by kind.",
	}, []string{"scheduler", "kind"})
	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "Carrier count per scheduler.",
	}, []string{"scheduler"})
	active := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_active",
		Help:      "Carriers currently holding a task.",
	}, []string{"scheduler"})
	pinnedSecs := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pinned_duration_seconds",
		Help:      "Cumulative time carriers were held by pinned tasks.",
	}, []string{"scheduler"})
	permits := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_permits",
		Help:      "Unparks waiting for a park on the same key.",
	}, []string{"scheduler"})
	closed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "closed",
		Help:      "Scheduler closed state (1=closed, 0=open).",
	}, []string{"scheduler"})

	var err error
	if tasks, err = registerCollector(reg, tasks); err != nil {
		return nil, err
	}
	if counts, err = registerCollector(reg, counts); err != nil {
		return nil, err
	}
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if pinnedSecs, err = registerCollector(reg, pinnedSecs); err != nil {
		return nil, err
	}
	if permits, err = registerCollector(reg, permits); err != nil {
		return nil, err
	}
	if closed, err = registerCollector(reg, closed); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:   interval,
		providers:  make(map[string]StatsProvider),
		tasks:      tasks,
		counts:     counts,
		workers:    workers,
		active:     active,
		pinnedSecs: pinnedSecs,
		permits:    permits,
		closed:     closed,
	}, nil
}

// AddScheduler adds or replaces a stats provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider StatsProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.providersMu.Lock()
	p.providers[name] = provider
	p.providersMu.Unlock()
}

// RemoveScheduler stops polling name.
func (p *SnapshotPoller) RemoveScheduler(name string) {
	if p == nil {
		return
	}
	p.providersMu.Lock()
	delete(p.providers, name)
	p.providersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.providersMu.RLock()
	defer p.providersMu.RUnlock()

	for name, provider := range p.providers {
		st := provider.Stats()

		p.tasks.WithLabelValues(name, "runnable").Set(float64(st.RunnableCount))
		p.tasks.WithLabelValues(name, "running").Set(float64(st.RunningCount))
		p.tasks.WithLabelValues(name, "suspended").Set(float64(st.SuspendedCount))
		p.tasks.WithLabelValues(name, "pinned").Set(float64(st.PinnedCount))
		p.tasks.WithLabelValues(name, "in_flight").Set(float64(st.InFlight))

		p.counts.WithLabelValues(name, "submitted").Set(float64(st.SubmittedCount))
		p.counts.WithLabelValues(name, "completed").Set(float64(st.CompletedCount))
		p.counts.WithLabelValues(name, "failed").Set(float64(st.FailedCount))
		p.counts.WithLabelValues(name, "cancelled").Set(float64(st.CancelledCount))
		p.counts.WithLabelValues(name, "stolen").Set(float64(st.StolenCount))
		p.counts.WithLabelValues(name, "yielded").Set(float64(st.YieldCount))
		p.counts.WithLabelValues(name, "promoted").Set(float64(st.PromotedCount))

		p.workers.WithLabelValues(name).Set(float64(st.Workers))
		p.active.WithLabelValues(name).Set(float64(st.ActiveWorkers))
		p.pinnedSecs.WithLabelValues(name).Set(st.PinnedDuration.Seconds())
		p.permits.WithLabelValues(name).Set(float64(st.PendingPermits))
		if st.Closed {
			p.closed.WithLabelValues(name).Set(1)
		} else {
			p.closed.WithLabelValues(name).Set(0)
		}
	}
}
