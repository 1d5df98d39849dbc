// Package faultz provides a scheduled subprocess execution pool for staging
// reproducible fault-injection and benchmark workloads on compute nodes.
//
// # Overview
//
// faultz is the host-side core of a distributed fault-injection agent. A
// remote controller submits time-stamped tasks (external commands) to a
// bounded pool of workers; each worker sleeps until its task's scheduled
// start on a shared workload timeline, spawns the command as a subprocess,
// enforces a per-task duration budget, optionally restarts the command if it
// exits early, and broadcasts start / restart / end / error status messages
// to all connected observers.
//
// # Core Concepts
//
// The engine is built from a handful of cooperating pieces:
//
//   - Pool: lifecycle, worker liveness, and the Submit entry point
//   - worker: one unit of concurrent execution owning at most one live
//     subprocess, with mutual exclusion between its loop, the supervisor,
//     and external queries
//   - taskQueue: unbounded FIFO with counting-signal wakeup; submission
//     never blocks, consumers wake on submission or shutdown
//   - session: the mapping between local wall time and the controller's
//     workload (relative) time, with adaptive drift correction
//   - the scheduled executor: per-task sleep / spawn / supervise / restart /
//     report behavior driving all of the above
//
// Tasks carry their start time on the workload time axis. A session is
// established with ResetSession, pairing a workload timestamp with a wall
// timestamp; from then on the pool translates between the two frames and
// smooths drift against controller heartbeats delivered via CorrectTime.
//
// # Execution Model
//
// Workers are long-lived goroutines. Each blocks on the queue's counting
// signal, pops one task, sleeps until the task's scheduled start (waking
// early on pool shutdown), then drives the task to completion. Per-task
// cancellation is intentionally absent: the controller's contract is
// "submit, then wait for events, or tear down the pool".
//
//	pool := faultz.NewPool("injector", faultz.Config{MaxRequests: 8}, broadcaster)
//	pool.Start()
//	defer pool.Stop(true)
//
//	pool.ResetSession(0, float64(time.Now().UnixNano())/1e9)
//	pool.Submit(&faultz.Task{Args: "stress --cpu 4", Duration: 30, Timestamp: 120, IsFault: true})
//
// # Observability
//
// Like the rest of the zoobzio ecosystem, faultz carries no logger. The pool
// exposes a metricz registry, a tracez tracer, and typed hookz events:
// task lifecycle events via OnTaskStart / OnTaskRestart / OnTaskEnd /
// OnTaskError, task-level warnings (affinity overrides, expired skips,
// early exits) via OnTaskWarning, and operational pool events via
// OnPoolStart / OnPoolStop / OnWorkerRespawn / OnClockDrift /
// OnSubmitRejected. Status messages for remote observers flow through the
// Broadcaster collaborator instead.
package faultz

import "errors"

// Name is a type alias for pool instance names. Using this type encourages
// storing names as constants rather than inline strings.
type Name = string

// Sentinel errors returned by pool lifecycle and submission operations.
var (
	// ErrNotStarted is returned by Submit when the pool has not been started.
	ErrNotStarted = errors.New("pool not started")

	// ErrTerminating is returned by Submit while the pool is shutting down.
	ErrTerminating = errors.New("pool is terminating")
)
