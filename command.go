package faultz

import "github.com/google/shlex"

// Affinity holds the pool-wide CPU-affinity defaults, one selector per task
// class. An empty selector disables pinning for that class; AllCores pins
// while yielding the concrete core list to the task's own selector.
type Affinity struct {
	// FaultCores is the default core selector for fault tasks.
	FaultCores string

	// BenchCores is the default core selector for benchmark tasks.
	BenchCores string
}

// formatTaskArgs tokenizes the task's command string and applies the
// affinity arbitration rule: the pool default always wins over the task's
// own selector, except when the default is AllCores. The task's Cores field
// is rewritten to the effective selection, which is observable in
// downstream status messages.
//
// The returned overridden flag reports that the task specified its own
// cores but pool policy replaced them.
func formatTaskArgs(task *Task, affinity Affinity) (argv []string, overridden bool, err error) {
	argv, err = shlex.Split(task.Args)
	if err != nil {
		return nil, false, err
	}

	defaultCores := affinity.BenchCores
	if task.IsFault {
		defaultCores = affinity.FaultCores
	}
	effective := defaultCores
	if task.Cores != "" && defaultCores == AllCores {
		effective = task.Cores
	}
	overridden = task.Cores != "" && effective != task.Cores
	task.Cores = effective

	if defaultCores != "" {
		argv = formatNumaCommand(argv, task.Cores)
	}
	return argv, overridden, nil
}

// formatNumaCommand prepends the platform's CPU-pinning wrapper so the
// command runs restricted to the given core selector.
func formatNumaCommand(argv []string, cores string) []string {
	return append([]string{"numactl", "--physcpubind=" + cores}, argv...)
}
