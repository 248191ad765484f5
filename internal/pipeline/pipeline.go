// Package pipeline orchestrates jobs through their stage plans: per-stage
// scheduling lanes, gate admission, retry/backoff transitions, cooperative
// cancellation, and crash recovery. The orchestrator is the only writer of
// job records while the daemon runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"slowjams/internal/config"
	"slowjams/internal/events"
	"slowjams/internal/gate"
	"slowjams/internal/logging"
	"slowjams/internal/notifications"
	"slowjams/internal/queue"
	"slowjams/internal/retry"
	"slowjams/internal/stage"
)

// Orchestrator drives the pipeline. Construct with New, then Start; Submit,
// Cancel, Reprioritize, and Status are safe for concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	store    *queue.Store
	handlers stage.HandlerSet
	gates    map[stage.Kind]*gate.Gate
	policy   retry.Policy
	hub      *events.Hub
	notifier notifications.Service
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[int64]*running
	kicks    map[stage.Kind]chan struct{}

	// terminal counters since the queue last drained
	batchStart     time.Time
	batchCompleted int
	batchFailed    int

	started   bool
	cancelRun context.CancelFunc
	group     *errgroup.Group
	runners   sync.WaitGroup
}

// running tracks one claimed job from lane claim to outcome.
type running struct {
	jobID int64
	kind  stage.Kind
	done  chan struct{}

	mu              sync.Mutex
	finished        bool
	cancelRequested bool
	cancelNote      string
	cancelStage     context.CancelFunc
	permit          *gate.Permit
}

// New wires an orchestrator from configuration. Every stage kind appearing in
// handlers gets its own gate sized from the config.
func New(cfg *config.Config, store *queue.Store, handlers stage.HandlerSet, hub *events.Hub, notifier notifications.Service, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("at least one stage handler is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	gates := make(map[stage.Kind]*gate.Gate, len(handlers))
	kicks := make(map[stage.Kind]chan struct{}, len(handlers))
	for kind := range handlers {
		g, err := gate.New(gateCapacity(cfg, kind))
		if err != nil {
			return nil, fmt.Errorf("gate for %s: %w", kind, err)
		}
		gates[kind] = g
		kicks[kind] = make(chan struct{}, 1)
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		handlers: handlers,
		gates:    gates,
		policy:   retry.FromConfig(cfg.Retry),
		hub:      hub,
		notifier: notifier,
		logger:   logger.With(logging.String(logging.FieldComponent, "pipeline")),
		inflight: make(map[int64]*running),
		kicks:    kicks,
	}, nil
}

func gateCapacity(cfg *config.Config, kind stage.Kind) int {
	switch kind {
	case stage.KindAcquire:
		return cfg.Gates.Acquire
	case stage.KindConvert:
		return cfg.Gates.Convert
	case stage.KindEdit:
		return cfg.Gates.Edit
	case stage.KindTransform:
		return cfg.Gates.Transform
	case stage.KindFinalize:
		return cfg.Gates.Finalize
	default:
		return 1
	}
}

// Start recovers interrupted work and launches the scheduling lanes. It
// returns once the lanes are running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	o.cancelRun = cancel

	if err := o.recoverRunning(runCtx); err != nil {
		cancel()
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	for kind := range o.handlers {
		group.Go(func() error {
			o.lane(groupCtx, kind)
			return nil
		})
	}
	group.Go(func() error {
		o.promoteLoop(groupCtx)
		return nil
	})
	o.group = group

	o.logger.Info("pipeline started", logging.Int("lanes", len(o.handlers)))
	return nil
}

// Stop halts scheduling and waits for in-flight runners to settle. Running
// stages are interrupted through context cancellation; their jobs stay in
// running status and are recovered on the next start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancelRun
	group := o.group
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if group != nil {
		_ = group.Wait()
	}
	o.runners.Wait()
	o.logger.Info("pipeline stopped")
}

// ResizeGate reconfigures a stage gate's capacity at runtime. Lowering the
// capacity never preempts running work.
func (o *Orchestrator) ResizeGate(kind stage.Kind, capacity int) error {
	g, ok := o.gates[kind]
	if !ok {
		return fmt.Errorf("no gate for stage %q", kind)
	}
	if err := g.Resize(capacity); err != nil {
		return err
	}
	o.kick(kind)
	return nil
}

// kick nudges a lane to dispatch immediately instead of waiting for its next
// poll tick.
func (o *Orchestrator) kick(kind stage.Kind) {
	ch, ok := o.kicks[kind]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) kickAll() {
	for kind := range o.kicks {
		o.kick(kind)
	}
}

func (o *Orchestrator) claim(job *queue.Job, kind stage.Kind) *running {
	r := &running{jobID: job.ID, kind: kind, done: make(chan struct{})}
	o.mu.Lock()
	o.inflight[job.ID] = r
	if len(o.inflight) == 1 && o.batchStart.IsZero() {
		o.batchStart = time.Now()
	}
	o.mu.Unlock()
	return r
}

func (o *Orchestrator) unclaim(r *running) {
	o.mu.Lock()
	delete(o.inflight, r.jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) owns(jobID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[jobID]
	return ok
}

func (o *Orchestrator) inflightSnapshot(kind stage.Kind) (ids []int64, forKind int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, r := range o.inflight {
		ids = append(ids, id)
		if r.kind == kind {
			forKind++
		}
	}
	return ids, forKind
}

func (o *Orchestrator) publish(evt events.Event) {
	if o.hub != nil {
		o.hub.Publish(evt)
	}
}
