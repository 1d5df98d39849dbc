package faultz

import (
	"reflect"
	"testing"
)

func TestFormatTaskArgs(t *testing.T) {
	t.Run("Tokenizes Plain Command", func(t *testing.T) {
		task := &Task{Args: "stress --cpu 4 --timeout 30"}
		argv, overridden, err := formatTaskArgs(task, Affinity{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if overridden {
			t.Error("expected no override without affinity policy")
		}
		want := []string{"stress", "--cpu", "4", "--timeout", "30"}
		if !reflect.DeepEqual(argv, want) {
			t.Errorf("expected %v, got %v", want, argv)
		}
	})

	t.Run("Honors Shell Quoting", func(t *testing.T) {
		task := &Task{Args: `sh -c "echo hello world"`}
		argv, _, err := formatTaskArgs(task, Affinity{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"sh", "-c", "echo hello world"}
		if !reflect.DeepEqual(argv, want) {
			t.Errorf("expected %v, got %v", want, argv)
		}
	})

	t.Run("Rejects Malformed Quoting", func(t *testing.T) {
		task := &Task{Args: `echo "unterminated`}
		if _, _, err := formatTaskArgs(task, Affinity{}); err == nil {
			t.Error("expected tokenization error")
		}
	})

	t.Run("Pool Default Wins Over Task Cores", func(t *testing.T) {
		task := &Task{Args: "stress --cpu 1", IsFault: true, Cores: "4-7"}
		argv, overridden, err := formatTaskArgs(task, Affinity{FaultCores: "0-3", BenchCores: AllCores})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !overridden {
			t.Error("expected task cores to be overridden")
		}
		if task.Cores != "0-3" {
			t.Errorf("expected effective cores 0-3, got %q", task.Cores)
		}
		want := []string{"numactl", "--physcpubind=0-3", "stress", "--cpu", "1"}
		if !reflect.DeepEqual(argv, want) {
			t.Errorf("expected %v, got %v", want, argv)
		}
	})

	t.Run("All Cores Default Yields To Task Cores", func(t *testing.T) {
		task := &Task{Args: "bench", Cores: "2"}
		argv, overridden, err := formatTaskArgs(task, Affinity{BenchCores: AllCores})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if overridden {
			t.Error("expected no override when default is all cores")
		}
		if task.Cores != "2" {
			t.Errorf("expected task cores preserved, got %q", task.Cores)
		}
		want := []string{"numactl", "--physcpubind=2", "bench"}
		if !reflect.DeepEqual(argv, want) {
			t.Errorf("expected %v, got %v", want, argv)
		}
	})

	t.Run("All Cores Default Without Task Cores Pins All", func(t *testing.T) {
		task := &Task{Args: "bench"}
		argv, _, err := formatTaskArgs(task, Affinity{BenchCores: AllCores})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"numactl", "--physcpubind=all", "bench"}
		if !reflect.DeepEqual(argv, want) {
			t.Errorf("expected %v, got %v", want, argv)
		}
	})

	t.Run("No Default Clears Task Cores Without Pinning", func(t *testing.T) {
		task := &Task{Args: "bench", Cores: "2"}
		argv, overridden, err := formatTaskArgs(task, Affinity{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !overridden {
			t.Error("expected override when pool disables pinning")
		}
		if task.Cores != "" {
			t.Errorf("expected cores cleared, got %q", task.Cores)
		}
		want := []string{"bench"}
		if !reflect.DeepEqual(argv, want) {
			t.Errorf("expected %v, got %v", want, argv)
		}
	})
}

func TestIsShellScript(t *testing.T) {
	cases := []struct {
		args string
		want bool
	}{
		{"./workload.sh --iterations 5", true},
		{"/opt/bench/run.bash", true},
		{"#!/bin/sh\necho hi", true},
		{"stress --cpu 4", false},
		{"echo script.sh", false},
	}
	for _, tc := range cases {
		task := &Task{Args: tc.args}
		if got := task.isShellScript(); got != tc.want {
			t.Errorf("isShellScript(%q) = %v, want %v", tc.args, got, tc.want)
		}
	}
}
