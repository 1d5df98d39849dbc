package faultz

import "testing"

func TestStatusBuilders(t *testing.T) {
	t.Run("Restart Maps Clean Exit To Nil", func(t *testing.T) {
		task := &Task{Args: "bench", Timestamp: 12.5}
		msg := statusRestart(task, 0)
		if msg.Type != StatusRestarted {
			t.Errorf("expected restart type, got %v", msg.Type)
		}
		if msg.Error != nil {
			t.Errorf("expected nil prior code, got %d", *msg.Error)
		}
	})

	t.Run("Restart Carries Nonzero Prior Code", func(t *testing.T) {
		msg := statusRestart(&Task{Args: "bench"}, 137)
		if msg.Error == nil || *msg.Error != 137 {
			t.Errorf("expected prior code 137, got %v", msg.Error)
		}
	})

	t.Run("Messages Snapshot The Task", func(t *testing.T) {
		task := &Task{Args: "bench", Timestamp: 3}
		msg := statusStart(task)
		task.Timestamp = 99
		if msg.Task.Timestamp != 3 {
			t.Errorf("expected snapshot timestamp 3, got %v", msg.Task.Timestamp)
		}
	})

	t.Run("Error Carries Code And Output", func(t *testing.T) {
		out := "boom\n"
		msg := statusError(&Task{Args: "bench"}, 2, &out)
		if msg.Type != StatusErrored || msg.Code != 2 {
			t.Errorf("expected error with code 2, got %v code %d", msg.Type, msg.Code)
		}
		if msg.Output == nil || *msg.Output != out {
			t.Error("expected output carried through")
		}
	})

	t.Run("End Allows Nil Output", func(t *testing.T) {
		msg := statusEnd(&Task{Args: "bench"}, nil)
		if msg.Type != StatusEnded || msg.Output != nil {
			t.Errorf("expected end with nil output, got %v", msg.Type)
		}
	})
}
