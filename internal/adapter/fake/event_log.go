package fake

import (
	"context"
	"sync"
	"time"

	"github.com/roseeng/SyncTrayzor/internal/adapter/fake/fault"
	"github.com/roseeng/SyncTrayzor/internal/events"
	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

const (
	FaultFetchSince  = "eventlog.fetch_since"
	FaultFetchLatest = "eventlog.fetch_latest"
)

var _ watcher.Client = (*EventLog)(nil)

// EventLog is an in-memory daemon event log. Fetches long-poll: they block
// until an event newer than the requested id exists or ctx ends.
type EventLog struct {
	CallRecorder
	Faults *fault.Injector

	mu       sync.Mutex
	entries  []events.Envelope
	nextID   int64
	changed  chan struct{}
	scripted [][]events.Envelope
	now      func() time.Time
}

func NewEventLog() *EventLog {
	return &EventLog{
		Faults:  fault.NewInjector(),
		nextID:  1,
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Append adds one event per payload with consecutive ids and returns the id
// of the last one.
func (l *EventLog) Append(payloads ...events.Payload) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range payloads {
		l.entries = append(l.entries, events.New(l.nextID, l.now(), p))
		l.nextID++
	}
	l.wakeLocked()
	return l.nextID - 1
}

// Skip advances the id counter without storing events, as the daemon does
// when its buffer overflows before a reader catches up.
func (l *EventLog) Skip(n int) {
	l.mu.Lock()
	l.nextID += int64(n)
	l.mu.Unlock()
}

// Script makes the next fetch return b verbatim, ignoring the requested id.
// Scripted batches are consumed in order.
func (l *EventLog) Script(b ...events.Envelope) {
	l.mu.Lock()
	l.scripted = append(l.scripted, b)
	l.wakeLocked()
	l.mu.Unlock()
}

// LastID returns the newest id handed out, 0 when empty.
func (l *EventLog) LastID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID - 1
}

func (l *EventLog) FetchSince(ctx context.Context, since int64) ([]events.Envelope, error) {
	l.record("FetchSince", since)
	if err := l.Faults.Eval(FaultFetchSince, since); err != nil {
		return nil, err
	}
	return l.wait(ctx, func() []events.Envelope {
		var out []events.Envelope
		for _, e := range l.entries {
			if e.ID > since {
				out = append(out, e)
			}
		}
		return out
	})
}

func (l *EventLog) FetchLatest(ctx context.Context) ([]events.Envelope, error) {
	l.record("FetchLatest")
	if err := l.Faults.Eval(FaultFetchLatest); err != nil {
		return nil, err
	}
	return l.wait(ctx, func() []events.Envelope {
		if len(l.entries) == 0 {
			return nil
		}
		return []events.Envelope{l.entries[len(l.entries)-1]}
	})
}

// wait runs selectFn under the lock until it yields events, a scripted
// batch is queued, or ctx ends.
func (l *EventLog) wait(ctx context.Context, selectFn func() []events.Envelope) ([]events.Envelope, error) {
	for {
		l.mu.Lock()
		if len(l.scripted) > 0 {
			b := l.scripted[0]
			l.scripted = l.scripted[1:]
			l.mu.Unlock()
			return b, nil
		}
		if out := selectFn(); len(out) > 0 {
			l.mu.Unlock()
			return out, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *EventLog) wakeLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}
