package scheduler

import (
	"context"
	"sync"
	"time"

	"ResearchPipeline/internal/ports"
)

// TickerScheduler runs a job at a fixed interval.
type TickerScheduler struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*TickerScheduler)(nil)

// NewTickerScheduler builds a scheduler firing every interval; a non-positive
// interval defaults to one minute.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TickerScheduler{interval: interval}
}

// Start begins ticking. Calling Start on a running scheduler is a no-op.
func (t *TickerScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done
	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				job(now)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine and waits for a running job to return.
func (t *TickerScheduler) Stop(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
