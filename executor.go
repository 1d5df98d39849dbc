package faultz

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the scheduled executor.
const (
	// Metrics.
	ExecutorTasksTotal    = metricz.Key("executor.tasks.total")
	ExecutorTasksExpired  = metricz.Key("executor.tasks.expired.total")
	ExecutorSpawnFailures = metricz.Key("executor.spawn.failures.total")
	ExecutorRestartsTotal = metricz.Key("executor.restarts.total")
	ExecutorDeadlineKills = metricz.Key("executor.deadline.kills.total")
	ExecutorTasksEnded    = metricz.Key("executor.tasks.ended.total")
	ExecutorTasksErrored  = metricz.Key("executor.tasks.errored.total")

	// Spans.
	ExecutorTaskSpan = tracez.Key("executor.task")
	ExecutorWaitSpan = tracez.Key("executor.wait")
	ExecutorRunSpan  = tracez.Key("executor.run")

	// Tags.
	ExecutorTagArgs     = tracez.Tag("executor.args")
	ExecutorTagFault    = tracez.Tag("executor.fault")
	ExecutorTagWorker   = tracez.Tag("executor.worker")
	ExecutorTagOutcome  = tracez.Tag("executor.outcome")
	ExecutorTagCode     = tracez.Tag("executor.code")
	ExecutorTagRestarts = tracez.Tag("executor.restarts")

	// Hook event keys.
	TaskEventStart   = hookz.Key("task.start")
	TaskEventRestart = hookz.Key("task.restart")
	TaskEventEnd     = hookz.Key("task.end")
	TaskEventError   = hookz.Key("task.error")
	TaskEventWarning = hookz.Key("task.warning")
)

// TaskEvent represents a task lifecycle event. The Task snapshot carries
// the event's workload timestamp and the effective affinity selection,
// matching what the Broadcaster receives.
type TaskEvent struct {
	Name      Name      // Pool instance name
	Worker    int       // Index of the worker driving the task
	Task      Task      // Task snapshot stamped with the event time
	Code      int       // Exit code: terminal code, or prior code on restart
	Output    string    // Captured output attached to the terminal event
	Reason    string    // Cause, set on warning events
	Timestamp time.Time // When the event occurred
}

// registerExecutorMetrics pre-registers the executor's counters on the
// pool's registry.
func registerExecutorMetrics(metrics *metricz.Registry) {
	metrics.Counter(ExecutorTasksTotal)
	metrics.Counter(ExecutorTasksExpired)
	metrics.Counter(ExecutorSpawnFailures)
	metrics.Counter(ExecutorRestartsTotal)
	metrics.Counter(ExecutorDeadlineKills)
	metrics.Counter(ExecutorTasksEnded)
	metrics.Counter(ExecutorTasksErrored)
}

// executeTask drives one task through its full lifecycle on worker w:
// sleep until the scheduled start, shape the command, spawn, supervise the
// duration budget with optional restarts, then collect output and report
// the outcome.
func (p *Pool) executeTask(w *worker, task *Task) {
	clock := p.getClock()
	ctx, span := p.tracer.StartSpan(context.Background(), ExecutorTaskSpan)
	span.SetTag(ExecutorTagArgs, task.Args)
	span.SetTag(ExecutorTagFault, strconv.FormatBool(task.IsFault))
	span.SetTag(ExecutorTagWorker, strconv.Itoa(w.id))
	defer span.Finish()

	p.metrics.Counter(ExecutorTasksTotal).Inc()

	// The time left until the scheduled start of the task. Sleeping
	// happens on a pool-wide wake channel so shutdown releases every
	// sleeper at once; after any wake the worker proceeds regardless and
	// the spawn gate re-examines its termination flag.
	timeToTask := p.session.timeToTask(task.Timestamp)
	switch {
	case timeToTask > 0:
		_, waitSpan := p.tracer.StartSpan(ctx, ExecutorWaitSpan)
		select {
		case <-clock.After(time.Duration(timeToTask * float64(time.Second))):
		case <-p.shutdown:
		}
		waitSpan.Finish()
	case timeToTask < 0 && p.cfg.SkipExpired:
		p.metrics.Counter(ExecutorTasksExpired).Inc()
		span.SetTag(ExecutorTagOutcome, "expired")
		p.emitTaskWarning(ctx, w, task, "starting time expired, skipping")
		p.processResult(ctx, w, task, wallSeconds(clock), -1, "")
		return
	}

	argv, overridden, err := formatTaskArgs(task, p.cfg.NumaCores)
	if err != nil || len(argv) == 0 {
		p.metrics.Counter(ExecutorSpawnFailures).Inc()
		span.SetTag(ExecutorTagOutcome, "spawn-failed")
		p.processResult(ctx, w, task, wallSeconds(clock), -1, "")
		return
	}
	if overridden {
		p.emitTaskWarning(ctx, w, task, "affinity overridden by pool policy")
	}
	if task.Duration == DurationUnlimited && task.IsFault {
		p.emitTaskWarning(ctx, w, task, "fault task has undefined duration")
	}

	shell := task.isShellScript()
	startWall := wallSeconds(clock)
	proc := w.startProcess(argv, shell, p.cfg.Root)
	if proc == nil {
		if !w.hasToTerminate() {
			p.metrics.Counter(ExecutorSpawnFailures).Inc()
			span.SetTag(ExecutorTagOutcome, "spawn-failed")
			p.processResult(ctx, w, task, startWall, -1, "")
		}
		return
	}
	p.metrics.Gauge(PoolActiveTasks).Set(float64(p.ActiveTasks()))
	p.informStart(ctx, w, task, startWall)

	var outdata strings.Builder
	rcode := 0
	restarts := 0
	endWall := startWall

	if task.Duration == DurationUnlimited {
		proc.waitDone()
		endWall = wallSeconds(clock)
		rcode = proc.exitCode()
	} else {
		remaining := task.Duration
		for remaining > 0 {
			_, runSpan := p.tracer.StartSpan(ctx, ExecutorRunSpan)
			timedOut := proc.wait(clock, remaining)
			runSpan.Finish()
			if timedOut {
				// Ran out its duration budget: kill and treat as
				// success.
				w.forceStopProcess()
				endWall = wallSeconds(clock)
				rcode = 0
				p.metrics.Counter(ExecutorDeadlineKills).Inc()
				break
			}
			endWall = wallSeconds(clock)
			rcode = proc.exitCode()
			remaining = task.Duration - (endWall - startWall)
			if remaining <= 0 || !p.retryAllowed() {
				break
			}
			if rcode != 0 {
				p.emitTaskWarning(ctx, w, task, "task terminated unexpectedly")
				if !p.cfg.RetryOnError {
					break
				}
			}
			outdata.WriteString(proc.output())
			restartWall := wallSeconds(clock)
			next := w.startProcess(argv, shell, p.cfg.Root)
			if next == nil {
				break
			}
			proc = next
			restarts++
			p.metrics.Counter(ExecutorRestartsTotal).Inc()
			p.informRestart(ctx, w, task, restartWall, rcode)
		}
	}

	outdata.WriteString(proc.output())
	span.SetTag(ExecutorTagRestarts, strconv.Itoa(restarts))
	span.SetTag(ExecutorTagCode, strconv.Itoa(rcode))
	if rcode != 0 {
		span.SetTag(ExecutorTagOutcome, "error")
	} else {
		span.SetTag(ExecutorTagOutcome, "end")
	}
	p.processResult(ctx, w, task, endWall, rcode, outdata.String())
	p.metrics.Gauge(PoolActiveTasks).Set(float64(p.ActiveTasks()))
}

// retryAllowed reports whether the restart policy is in force. Restarts are
// suspended pool-wide during an abrupt shutdown.
func (p *Pool) retryAllowed() bool {
	return p.cfg.RetryTasks && !p.noRestarts.Load()
}

// informStart broadcasts that the task's subprocess has been spawned,
// stamped with the actual start time translated into workload time.
func (p *Pool) informStart(ctx context.Context, w *worker, task *Task, startWall float64) {
	task.Timestamp = p.session.toWorkload(startWall)
	if msg := statusStart(task); msg != nil && p.server != nil {
		p.server.Broadcast(msg)
	}
	_ = p.taskHooks.Emit(ctx, TaskEventStart, TaskEvent{ //nolint:errcheck
		Name:      p.name,
		Worker:    w.id,
		Task:      *task,
		Timestamp: p.getClock().Now(),
	})
}

// informRestart broadcasts that the task's subprocess exited early and was
// respawned, carrying the prior run's exit code.
func (p *Pool) informRestart(ctx context.Context, w *worker, task *Task, restartWall float64, rcode int) {
	task.Timestamp = p.session.toWorkload(restartWall)
	if msg := statusRestart(task, rcode); msg != nil && p.server != nil {
		p.server.Broadcast(msg)
	}
	_ = p.taskHooks.Emit(ctx, TaskEventRestart, TaskEvent{ //nolint:errcheck
		Name:      p.name,
		Worker:    w.id,
		Task:      *task,
		Code:      rcode,
		Timestamp: p.getClock().Now(),
	})
}

// processResult broadcasts the task's terminal status. Output is discarded
// when capture is disabled, the task is a fault, or nothing was captured.
// Emission is suppressed when the worker has been flagged for termination:
// the controller treats the session shutdown as the terminal cause.
func (p *Pool) processResult(ctx context.Context, w *worker, task *Task, endWall float64, rcode int, outdata string) {
	task.Timestamp = p.session.toWorkload(endWall)
	var output *string
	if p.cfg.LogOutputs && !task.IsFault && len(outdata) > 0 {
		output = &outdata
	}

	var msg *Message
	key := TaskEventEnd
	if rcode != 0 {
		p.metrics.Counter(ExecutorTasksErrored).Inc()
		msg = statusError(task, rcode, output)
		key = TaskEventError
	} else {
		p.metrics.Counter(ExecutorTasksEnded).Inc()
		msg = statusEnd(task, output)
	}
	if msg == nil || w.hasToTerminate() {
		return
	}
	if p.server != nil {
		p.server.Broadcast(msg)
	}
	event := TaskEvent{
		Name:      p.name,
		Worker:    w.id,
		Task:      *task,
		Code:      rcode,
		Timestamp: p.getClock().Now(),
	}
	if output != nil {
		event.Output = *output
	}
	_ = p.taskHooks.Emit(ctx, key, event) //nolint:errcheck
}

func (p *Pool) emitTaskWarning(ctx context.Context, w *worker, task *Task, reason string) {
	_ = p.taskHooks.Emit(ctx, TaskEventWarning, TaskEvent{ //nolint:errcheck
		Name:      p.name,
		Worker:    w.id,
		Task:      *task,
		Reason:    reason,
		Timestamp: p.getClock().Now(),
	})
}

// OnTaskStart registers a handler fired when a task's subprocess spawns.
func (p *Pool) OnTaskStart(handler func(context.Context, TaskEvent) error) error {
	_, err := p.taskHooks.Hook(TaskEventStart, handler)
	return err
}

// OnTaskRestart registers a handler fired when a task's subprocess exits
// early and is respawned within its duration budget.
func (p *Pool) OnTaskRestart(handler func(context.Context, TaskEvent) error) error {
	_, err := p.taskHooks.Hook(TaskEventRestart, handler)
	return err
}

// OnTaskEnd registers a handler fired when a task finalizes successfully,
// including deadline kills, which report exit code zero.
func (p *Pool) OnTaskEnd(handler func(context.Context, TaskEvent) error) error {
	_, err := p.taskHooks.Hook(TaskEventEnd, handler)
	return err
}

// OnTaskError registers a handler fired when a task finalizes with a
// nonzero exit code, a spawn failure, or an expired start time.
func (p *Pool) OnTaskError(handler func(context.Context, TaskEvent) error) error {
	_, err := p.taskHooks.Hook(TaskEventError, handler)
	return err
}

// OnTaskWarning registers a handler fired for non-fatal task conditions:
// expired skips, affinity overrides, faults with no duration, early exits.
func (p *Pool) OnTaskWarning(handler func(context.Context, TaskEvent) error) error {
	_, err := p.taskHooks.Hook(TaskEventWarning, handler)
	return err
}
