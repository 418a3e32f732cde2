package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerSchedulerRunsJobUntilStopped(t *testing.T) {
	t.Parallel()

	s := NewTickerScheduler(5 * time.Millisecond)
	var calls atomic.Int32
	if err := s.Start(context.Background(), func(time.Time) { calls.Add(1) }); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("job ran %d times before deadline", calls.Load())
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Fatalf("job kept running after Stop")
	}
}

func TestTickerSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	if err := NewTickerScheduler(0).Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}
