package faultz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Pool.
const (
	// Metrics.
	PoolTasksSubmitted   = metricz.Key("pool.tasks.submitted.total")
	PoolTasksRejected    = metricz.Key("pool.tasks.rejected.total")
	PoolWorkersRespawned = metricz.Key("pool.workers.respawned.total")
	PoolActiveTasks      = metricz.Key("pool.tasks.active")
	PoolPendingTasks     = metricz.Key("pool.tasks.pending")
	PoolClockCorrection  = metricz.Key("pool.clock.correction")

	// Hook event keys.
	PoolEventStarted        = hookz.Key("pool.started")
	PoolEventStopped        = hookz.Key("pool.stopped")
	PoolEventSubmitRejected = hookz.Key("pool.submit-rejected")
	PoolEventWorkerRespawn  = hookz.Key("pool.worker-respawn")
	PoolEventClockDrift     = hookz.Key("pool.clock-drift")
)

// defaultMaxRequests is the pool size applied when Config.MaxRequests is
// non-positive.
const defaultMaxRequests = 20

// PoolEvent represents an operational pool event. These cover the
// conditions a host operator watches for: lifecycle transitions, rejected
// submissions, dead-worker replacement, and clock drift against the
// controller.
type PoolEvent struct {
	Name       Name          // Pool instance name
	Worker     int           // Worker index, -1 when not worker-specific
	Drift      float64       // Measured drift in seconds (clock-drift only)
	Correction float64       // Correction factor after adjustment
	Reason     string        // Human-readable cause
	Timestamp  time.Time     // When the event occurred
}

// Config holds the pool's execution policy.
type Config struct {
	// MaxRequests is the number of concurrent workers. Tasks beyond it
	// wait in the queue. Non-positive values coerce to 20.
	MaxRequests int

	// SkipExpired drops tasks whose scheduled start has already passed at
	// dequeue, finalizing them with an error status instead of spawning.
	SkipExpired bool

	// RetryTasks respawns tasks that exit earlier than their expected
	// duration, for the remainder of the duration budget.
	RetryTasks bool

	// RetryOnError only matters when RetryTasks is set: when false, a
	// nonzero early exit stops the retry loop and the task is finalized
	// with that exit code.
	RetryOnError bool

	// LogOutputs captures combined stdout+stderr for benchmark tasks and
	// attaches it to their terminal status message.
	LogOutputs bool

	// Root permits tasks whose argument vector requests privilege
	// elevation. Requires password-less elevation on the host.
	Root bool

	// NumaCores is the pool-wide CPU-affinity policy pair.
	NumaCores Affinity
}

// Pool is the scheduled subprocess execution pool. A fixed set of workers
// consumes submitted tasks, runs each at its scheduled workload time, and
// reports outcomes through the Broadcaster and through typed hook events.
//
// All methods are safe for concurrent use. Start and Stop are idempotent;
// Submit never blocks.
type Pool struct {
	cfg     Config
	server  Broadcaster
	queue   *taskQueue
	session *session
	name    Name

	mu          sync.Mutex
	workers     []*worker
	shutdown    chan struct{}
	wg          sync.WaitGroup
	initialized bool
	terminating bool

	// noRestarts disables the restart policy for the span of an abrupt
	// shutdown so workers observing an early child exit do not spawn
	// replacements.
	noRestarts atomic.Bool

	clockMu   sync.RWMutex
	clock     clockz.Clock
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
	taskHooks *hookz.Hooks[TaskEvent]
	poolHooks *hookz.Hooks[PoolEvent]
}

// NewPool creates a Pool with the given policy, reporting task status
// through server. The pool is inert until Start.
func NewPool(name Name, cfg Config, server Broadcaster) *Pool {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}

	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(PoolTasksSubmitted)
	metrics.Counter(PoolTasksRejected)
	metrics.Counter(PoolWorkersRespawned)
	metrics.Gauge(PoolActiveTasks)
	metrics.Gauge(PoolPendingTasks)
	metrics.Gauge(PoolClockCorrection)
	registerExecutorMetrics(metrics)

	p := &Pool{
		name:      name,
		cfg:       cfg,
		server:    server,
		queue:     newTaskQueue(),
		metrics:   metrics,
		tracer:    tracez.New(),
		taskHooks: hookz.New[TaskEvent](),
		poolHooks: hookz.New[PoolEvent](),
	}
	p.session = newSession(p.getClock())
	return p
}

// Name returns the name of this pool.
func (p *Pool) Name() Name {
	return p.name
}

// Start allocates the configured number of workers and puts them to sleep
// on the queue. Idempotent when the pool is already running.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return
	}
	p.queue = newTaskQueue()
	p.shutdown = make(chan struct{})
	p.workers = make([]*worker, p.cfg.MaxRequests)
	for i := range p.workers {
		w := newWorker(i)
		p.workers[i] = w
		p.spawnWorker(w)
	}
	p.initialized = true
	p.terminating = false
	p.mu.Unlock()
	p.emitPoolEvent(PoolEventStarted, -1, "pool started")
}

// spawnWorker launches the working loop for w. A panicking loop is
// recovered into a dead-worker state that the submission sweep repairs.
func (p *Pool) spawnWorker(w *worker) {
	w.running.Store(true)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(w.joined)
		defer w.running.Store(false)
		defer func() {
			_ = recover() //nolint:errcheck // a dead worker is replaced by the sweep
		}()
		p.workingLoop(w)
	}()
}

// workingLoop is the basic loop of a worker: sleep on the queue signal,
// wake with a task or a shutdown token, execute, repeat.
func (p *Pool) workingLoop(w *worker) {
	for {
		task := p.queue.pop()
		if w.hasToTerminate() {
			return
		}
		if task == nil {
			continue
		}
		p.metrics.Gauge(PoolPendingTasks).Set(float64(p.queue.len()))
		p.executeTask(w, task)
	}
}

// Stop terminates the pool, joining all workers. Every worker blocked on the
// queue or on a scheduled start time is released within one wake cycle.
// When killAbruptly is true, live subprocesses are terminated synchronously,
// which also releases workers waiting on a child, and the restart policy is
// suspended for the span of the shutdown. When killAbruptly is false, live
// subprocesses are not signalled and Stop waits until each one exits or
// reaches its duration deadline. Idempotent when already stopped.
func (p *Pool) Stop(killAbruptly bool) {
	p.mu.Lock()
	if !p.initialized || p.terminating {
		p.mu.Unlock()
		return
	}
	p.terminating = true
	workers := make([]*worker, len(p.workers))
	copy(workers, p.workers)
	shutdown := p.shutdown
	p.mu.Unlock()

	for _, w := range workers {
		w.terminate()
	}
	// One shutdown token per worker wakes everyone blocked on the queue;
	// closing the shutdown channel wakes everyone sleeping until a
	// scheduled start.
	p.queue.release(len(workers))
	close(shutdown)
	if killAbruptly {
		p.noRestarts.Store(true)
		for _, w := range workers {
			w.forceStopProcess()
		}
	}
	p.wg.Wait()

	p.mu.Lock()
	p.initialized = false
	p.terminating = false
	p.workers = nil
	p.mu.Unlock()
	p.session.reset(0, 0)
	p.noRestarts.Store(false)
	p.emitPoolEvent(PoolEventStopped, -1, "pool stopped")
}

// Submit enqueues a task for scheduled execution. Submission never blocks;
// queue length is observable through PendingTasks but exerts no
// backpressure. Returns ErrNotStarted or ErrTerminating when the pool
// cannot accept tasks; the task is dropped in that case.
//
// Before enqueueing, a liveness sweep replaces any worker whose loop has
// died; replacements share no state with their predecessors.
func (p *Pool) Submit(task *Task) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		p.metrics.Counter(PoolTasksRejected).Inc()
		p.emitPoolEvent(PoolEventSubmitRejected, -1, "submitted to uninitialized pool")
		return ErrNotStarted
	}
	if p.terminating {
		p.mu.Unlock()
		p.metrics.Counter(PoolTasksRejected).Inc()
		p.emitPoolEvent(PoolEventSubmitRejected, -1, "submitted to terminating pool")
		return ErrTerminating
	}
	p.checkWorkers()
	p.mu.Unlock()

	p.queue.push(task)
	p.metrics.Counter(PoolTasksSubmitted).Inc()
	p.metrics.Gauge(PoolPendingTasks).Set(float64(p.queue.len()))
	return nil
}

// checkWorkers is the liveness sweep: any worker whose loop has returned
// unexpectedly is joined and replaced in place. Caller holds p.mu.
func (p *Pool) checkWorkers() {
	for i, w := range p.workers {
		if w.running.Load() {
			continue
		}
		<-w.joined
		replacement := newWorker(i)
		p.workers[i] = replacement
		p.spawnWorker(replacement)
		p.metrics.Counter(PoolWorkersRespawned).Inc()
		p.emitPoolEvent(PoolEventWorkerRespawn, i, "worker died unexpectedly, restored")
	}
}

// ActiveTasks returns the number of workers currently running subprocesses.
func (p *Pool) ActiveTasks() int {
	p.mu.Lock()
	workers := make([]*worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()
	active := 0
	for _, w := range workers {
		if w.isActive() {
			active++
		}
	}
	return active
}

// PendingTasks returns the number of tasks waiting in the queue.
func (p *Pool) PendingTasks() int {
	return p.queue.len()
}

// ResetSession establishes the workload-time origin: rel is the workload
// timestamp of the new session, abs the wall timestamp it pairs with. The
// drift correction factor is preserved across resets.
func (p *Pool) ResetSession(rel, abs float64) {
	p.session.reset(rel, abs)
}

// CorrectTime applies adaptive correction against a controller heartbeat
// carrying the controller's workload timestamp. When the residual drift
// exceeds the threshold during an active session, a tenth of it is folded
// into the correction factor and a clock-drift event fires.
func (p *Pool) CorrectTime(controllerTS float64) {
	diff, applied := p.session.correct(controllerTS)
	if !applied {
		return
	}
	correction := p.session.correctionFactor()
	p.metrics.Gauge(PoolClockCorrection).Set(correction)
	_ = p.poolHooks.Emit(context.Background(), PoolEventClockDrift, PoolEvent{ //nolint:errcheck
		Name:       p.name,
		Worker:     -1,
		Drift:      diff,
		Correction: correction,
		Reason:     "clock drifting against controller",
		Timestamp:  p.getClock().Now(),
	})
}

// WithClock sets a custom clock for testing.
func (p *Pool) WithClock(clock clockz.Clock) *Pool {
	p.clockMu.Lock()
	p.clock = clock
	p.clockMu.Unlock()
	p.session.setClock(clock)
	return p
}

// getClock returns the clock to use.
func (p *Pool) getClock() clockz.Clock {
	p.clockMu.RLock()
	defer p.clockMu.RUnlock()
	if p.clock == nil {
		return clockz.RealClock
	}
	return p.clock
}

// Metrics returns the metrics registry for this pool.
func (p *Pool) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this pool.
func (p *Pool) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close stops the pool abruptly and shuts down observability components.
func (p *Pool) Close() error {
	p.Stop(true)
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.taskHooks.Close()
	p.poolHooks.Close()
	return nil
}

// OnPoolStart registers a handler fired when the pool starts its workers.
func (p *Pool) OnPoolStart(handler func(context.Context, PoolEvent) error) error {
	_, err := p.poolHooks.Hook(PoolEventStarted, handler)
	return err
}

// OnPoolStop registers a handler fired after a shutdown completes: all
// workers joined and the session origins cleared.
func (p *Pool) OnPoolStop(handler func(context.Context, PoolEvent) error) error {
	_, err := p.poolHooks.Hook(PoolEventStopped, handler)
	return err
}

// OnWorkerRespawn registers a handler fired when the liveness sweep
// replaces a dead worker.
func (p *Pool) OnWorkerRespawn(handler func(context.Context, PoolEvent) error) error {
	_, err := p.poolHooks.Hook(PoolEventWorkerRespawn, handler)
	return err
}

// OnClockDrift registers a handler fired when a controller heartbeat
// reveals drift beyond the correction threshold.
func (p *Pool) OnClockDrift(handler func(context.Context, PoolEvent) error) error {
	_, err := p.poolHooks.Hook(PoolEventClockDrift, handler)
	return err
}

// OnSubmitRejected registers a handler fired when a task is dropped because
// the pool is stopped or terminating.
func (p *Pool) OnSubmitRejected(handler func(context.Context, PoolEvent) error) error {
	_, err := p.poolHooks.Hook(PoolEventSubmitRejected, handler)
	return err
}

func (p *Pool) emitPoolEvent(key hookz.Key, workerID int, reason string) {
	_ = p.poolHooks.Emit(context.Background(), key, PoolEvent{ //nolint:errcheck
		Name:      p.name,
		Worker:    workerID,
		Reason:    reason,
		Timestamp: p.getClock().Now(),
	})
}
