package faultz

import "strings"

// DurationUnlimited is the Task.Duration sentinel meaning "no duration
// limit": the subprocess runs until it exits on its own.
const DurationUnlimited float64 = 0

// AllCores is the affinity sentinel meaning "all cores". When a pool-wide
// affinity default is set to AllCores it yields to the task's own selector.
const AllCores = "all"

// sudoCommand is the privilege-elevation sentinel scanned for in task
// argument vectors. Best-effort guard, not a security boundary.
const sudoCommand = "sudo"

// Task describes one external command to execute at a scheduled point on the
// workload timeline. Tasks are immutable except for Timestamp and Cores:
// the executor rewrites Timestamp to the actual start / restart / end time
// when stamping outgoing status messages, and the formatter rewrites Cores
// to the effective affinity selection.
type Task struct {
	// Args is the command line as a single shell-syntax string. It may
	// name a shell script, in which case it runs under shell
	// interpretation rather than direct exec.
	Args string

	// Duration is the expected run duration in seconds.
	// DurationUnlimited means the subprocess runs to natural exit.
	Duration float64

	// Timestamp is the scheduled start time on the workload's
	// relative-time axis. Mutated by the executor to report actual
	// start / restart / end times in emitted status messages.
	Timestamp float64

	// IsFault distinguishes fault tasks from benchmark tasks. Faults use
	// the fault affinity default and never have output captured.
	IsFault bool

	// Cores is an optional CPU-affinity selector in the host's affinity
	// syntax. May be overridden by pool-wide policy.
	Cores string
}

// isShellScript reports whether the task's command must run under shell
// interpretation: either its executable path carries a shell-script suffix
// or the command begins with a shebang marker.
func (t *Task) isShellScript() bool {
	args := strings.TrimSpace(t.Args)
	if strings.HasPrefix(args, "#!") {
		return true
	}
	first := args
	if idx := strings.IndexAny(args, " \t"); idx >= 0 {
		first = args[:idx]
	}
	return strings.HasSuffix(first, ".sh") || strings.HasSuffix(first, ".bash")
}
