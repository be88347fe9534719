package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startScheduler(t *testing.T, workers, queueSize int) *Scheduler {
	t.Helper()
	s := NewScheduler(workers, queueSize)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleRunsTask(t *testing.T) {
	s := startScheduler(t, 2, 16)

	var ran atomic.Bool
	s.Schedule("prn-01", "health_check", 10*time.Millisecond, func(context.Context) {
		ran.Store(true)
	})

	waitFor(t, time.Second, ran.Load)
}

func TestScheduleImmediate(t *testing.T) {
	s := startScheduler(t, 2, 16)

	var ran atomic.Bool
	s.Schedule("prn-01", "now", 0, func(context.Context) {
		ran.Store(true)
	})

	waitFor(t, time.Second, ran.Load)
}

func TestScheduleReplacesSameKey(t *testing.T) {
	s := startScheduler(t, 2, 16)

	var first, second atomic.Bool
	s.Schedule("prn-01", "rotation", 50*time.Millisecond, func(context.Context) {
		first.Store(true)
	})
	s.Schedule("prn-01", "rotation", 10*time.Millisecond, func(context.Context) {
		second.Store(true)
	})

	waitFor(t, time.Second, second.Load)
	time.Sleep(100 * time.Millisecond)
	if first.Load() {
		t.Error("replaced task still ran")
	}
}

func TestCancelDevice(t *testing.T) {
	s := startScheduler(t, 2, 16)

	var ran atomic.Int32
	for _, name := range []string{"health_check", "rotation", "sandbox_sample"} {
		s.Schedule("prn-01", name, 50*time.Millisecond, func(context.Context) {
			ran.Add(1)
		})
	}
	var otherRan atomic.Bool
	s.Schedule("prn-02", "health_check", 50*time.Millisecond, func(context.Context) {
		otherRan.Store(true)
	})

	if got := s.Cancel("prn-01"); got != 3 {
		t.Errorf("Cancel() = %d, want 3", got)
	}

	waitFor(t, time.Second, otherRan.Load)
	time.Sleep(100 * time.Millisecond)
	if ran.Load() != 0 {
		t.Errorf("cancelled tasks ran %d times, want 0", ran.Load())
	}
}

func TestCancelTask(t *testing.T) {
	s := startScheduler(t, 2, 16)

	s.Schedule("prn-01", "rotation", time.Hour, func(context.Context) {})

	if !s.CancelTask("prn-01", "rotation") {
		t.Error("CancelTask() = false, want true for pending task")
	}
	if s.CancelTask("prn-01", "rotation") {
		t.Error("CancelTask() = true for already-cancelled task")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestTasksRespectOrder(t *testing.T) {
	s := startScheduler(t, 1, 16)

	var mu sync.Mutex
	var order []string
	record := func(name string) TaskFunc {
		return func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	s.Schedule("prn-01", "late", 60*time.Millisecond, record("late"))
	s.Schedule("prn-02", "early", 10*time.Millisecond, record("early"))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "early" || order[1] != "late" {
		t.Errorf("execution order = %v, want [early late]", order)
	}
}

func TestPanickingTaskDoesNotKillPool(t *testing.T) {
	s := startScheduler(t, 1, 16)

	s.Schedule("prn-01", "bad", 0, func(context.Context) {
		panic("boom")
	})

	var ran atomic.Bool
	s.Schedule("prn-01", "good", 10*time.Millisecond, func(context.Context) {
		ran.Store(true)
	})

	waitFor(t, time.Second, ran.Load)
}

func TestStopCancelsTaskContext(t *testing.T) {
	s := NewScheduler(1, 16)
	s.Start(context.Background())

	done := make(chan struct{})
	s.Schedule("prn-01", "blocking", 0, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	// Give the task time to start, then stop the scheduler.
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task context not cancelled on Stop")
	}
}
