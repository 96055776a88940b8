package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/dispatchlabs/taskgraph/queue"
	"github.com/dispatchlabs/taskgraph/task"
)

// SnapshotPoller periodically walks a queue.Registry's queue sets and
// exports their depths as Prometheus gauges, rather than relying on a
// RecordQueueDepth call from every push/pop site — grounded on the
// teacher's SnapshotPoller (core/*.go Stats() + observability/prometheus/
// snapshot_poller.go), replumbed from "poll named runners'/pools' Stats()"
// to "poll a Registry's per-worker QueueSets" since this module has no
// runner/pool Stats() concept, only the Registry's own queue state.
type SnapshotPoller struct {
	interval time.Duration
	registry *queue.Registry

	deques   *prom.GaugeVec
	affinity *prom.GaugeVec

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller over registry and
// registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, registry *queue.Registry, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	deques := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskgraph",
		Name:      "worker_deque_depth",
		Help:      "Depth of each worker's own work-stealing deque, by priority band.",
	}, []string{"worker", "priority"})
	affinity := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskgraph",
		Name:      "worker_affinity_depth",
		Help:      "Depth of each worker's affinity FIFO, by priority band.",
	}, []string{"worker", "priority"})

	var err error
	if deques, err = registerCollector(reg, deques); err != nil {
		return nil, err
	}
	if affinity, err = registerCollector(reg, affinity); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval: interval,
		registry: registry,
		deques:   deques,
		affinity: affinity,
	}, nil
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.mu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
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
	for w := 0; w < p.registry.NumWorkers(); w++ {
		set := p.registry.Set(w)
		label := workerLabel(w)
		for pr := task.Priority(0); pr < task.NumPriorities; pr++ {
			p.deques.WithLabelValues(label, pr.String()).Set(float64(set.Deques[pr].Len()))
			p.affinity.WithLabelValues(label, pr.String()).Set(float64(set.Affinity[pr].Len()))
		}
	}
}
