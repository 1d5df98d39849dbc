package faultz

import (
	"math"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// correctionThreshold is the drift, in seconds, beyond which the clock
// corrector starts adjusting the correction factor.
const correctionThreshold = 60.0

// correctionGain is the fraction of the measured drift folded into the
// correction factor per heartbeat. The proportional filter avoids step
// changes that would hand incoherent deadlines to workers already sleeping;
// its only contract is asymptotic convergence.
const correctionGain = 0.1

// session maintains the mapping between local wall time and the workload's
// relative time. The paired origins are written by the controller callback
// and read by every worker; all access goes through one short-held mutex so
// the pair is never observed torn. Workers tolerate slightly stale reads
// because drift correction is smoothed.
type session struct {
	mu         sync.Mutex
	startRel   float64
	startAbs   float64
	correction float64
	clock      clockz.Clock
}

func newSession(clock clockz.Clock) *session {
	return &session{clock: clock}
}

func (s *session) setClock(clock clockz.Clock) {
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
}

// wallSeconds returns the clock's current wall time as real-valued seconds.
func wallSeconds(clock clockz.Clock) float64 {
	return float64(clock.Now().UnixNano()) / float64(time.Second)
}

// reset atomically sets both session origins. The correction factor is left
// untouched so mid-run reconfigurations preserve drift history.
func (s *session) reset(rel, abs float64) {
	s.mu.Lock()
	s.startRel = rel
	s.startAbs = abs
	s.mu.Unlock()
}

// active reports whether a session is established. A zero wall origin means
// no session, and drift correction is a no-op in that state.
func (s *session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAbs > 0
}

// correct compares the controller's workload timestamp against the locally
// derived one and, when the residual drift exceeds the threshold during an
// active session, folds a fraction of it into the correction factor.
// Returns the measured residual drift and whether a correction was applied.
func (s *session) correct(controllerTS float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	myTS := wallSeconds(s.clock) - s.startAbs + s.startRel
	diff := controllerTS - myTS - s.correction
	if math.Abs(diff) > correctionThreshold && s.startAbs > 0 {
		s.correction += correctionGain * diff
		return diff, true
	}
	return diff, false
}

// timeToTask returns the seconds remaining until the task's scheduled start
// on the workload axis. Negative when the start time has already passed.
func (s *session) timeToTask(taskTS float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := wallSeconds(s.clock) - s.startAbs + s.correction
	return taskTS - s.startRel - elapsed
}

// toWorkload translates a wall timestamp into the workload time frame.
func (s *session) toWorkload(wallTS float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wallTS - s.startAbs + s.startRel
}

// correctionFactor returns the current smoothed drift compensation.
func (s *session) correctionFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correction
}
