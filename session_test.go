package faultz

import (
	"math"
	"testing"

	"github.com/zoobzio/clockz"
)

func TestSession(t *testing.T) {
	t.Run("Inactive Session Ignores Drift", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)

		diff, applied := s.correct(1000)
		if applied {
			t.Error("expected no correction without an active session")
		}
		if s.correctionFactor() != 0 {
			t.Errorf("expected zero correction factor, got %v", s.correctionFactor())
		}
		_ = diff
	})

	t.Run("Drift Below Threshold Not Corrected", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)
		s.reset(0, wallSeconds(clock))

		_, applied := s.correct(correctionThreshold / 2)
		if applied {
			t.Error("expected drift below threshold to be left alone")
		}
	})

	t.Run("Correction Converges Geometrically", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)
		s.reset(0, wallSeconds(clock))

		const offset = 100.0
		for n := 1; n <= 5; n++ {
			_, applied := s.correct(offset)
			if !applied {
				t.Fatalf("call %d: expected correction to apply", n)
			}
			want := offset * (1 - math.Pow(0.9, float64(n)))
			if got := s.correctionFactor(); math.Abs(got-want) > 1e-9 {
				t.Errorf("call %d: expected factor %v, got %v", n, want, got)
			}
		}
	})

	t.Run("Time To Task Uses Session Origin", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)
		s.reset(50, wallSeconds(clock))

		// Session is at workload time 50, so a task at 80 is 30s away.
		if got := s.timeToTask(80); math.Abs(got-30) > 1e-9 {
			t.Errorf("expected 30s to task, got %v", got)
		}
		// A task at 20 is 30s in the past.
		if got := s.timeToTask(20); math.Abs(got+30) > 1e-9 {
			t.Errorf("expected -30s to task, got %v", got)
		}
	})

	t.Run("Correction Shifts Scheduling", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)
		s.reset(0, wallSeconds(clock))

		before := s.timeToTask(200)
		if _, applied := s.correct(100); !applied {
			t.Fatal("expected correction to apply")
		}
		after := s.timeToTask(200)
		// The local frame moved 10s forward, so the task is 10s nearer.
		if math.Abs((before-after)-10) > 1e-9 {
			t.Errorf("expected task to move 10s nearer, moved %v", before-after)
		}
	})

	t.Run("To Workload Translates Wall Time", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)
		abs := wallSeconds(clock)
		s.reset(50, abs)

		if got := s.toWorkload(abs + 30); math.Abs(got-80) > 1e-9 {
			t.Errorf("expected workload time 80, got %v", got)
		}
	})

	t.Run("Reset Preserves Correction Factor", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		s := newSession(clock)
		s.reset(0, wallSeconds(clock))
		if _, applied := s.correct(100); !applied {
			t.Fatal("expected correction to apply")
		}
		factor := s.correctionFactor()

		s.reset(500, wallSeconds(clock))
		if got := s.correctionFactor(); got != factor {
			t.Errorf("expected factor %v preserved across reset, got %v", factor, got)
		}
	})
}
