package fake

import (
	"context"
	"sync"
	"time"
)

// Sleeper replaces the wait between polls. It records each requested
// duration and returns at once unless ctx has already ended.
type Sleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	notify chan time.Duration
}

func NewSleeper() *Sleeper {
	return &Sleeper{notify: make(chan time.Duration, 64)}
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()

	select {
	case s.notify <- d:
	default:
	}
	return ctx.Err() == nil
}

// Waits returns every recorded duration in order.
func (s *Sleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.waits))
	copy(out, s.waits)
	return out
}

// Next blocks until the next Sleep call and returns its duration.
func (s *Sleeper) Next(ctx context.Context) (time.Duration, bool) {
	select {
	case d := <-s.notify:
		return d, true
	case <-ctx.Done():
		return 0, false
	}
}
