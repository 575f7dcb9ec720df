package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roseeng/SyncTrayzor/internal/check"
	"github.com/roseeng/SyncTrayzor/internal/events"
	"github.com/roseeng/SyncTrayzor/internal/poller"
	"github.com/roseeng/SyncTrayzor/internal/workqueue"
)

const (
	// defaultErroredInterval is 10s: the daemon is usually restarting or gone
	// when the event endpoint fails, so hammering it is pointless.
	defaultErroredInterval = 10 * time.Second

	defaultName = "event-watcher"
	tracerName  = "github.com/roseeng/SyncTrayzor/internal/watcher"
)

// ErrNoClient is returned by a poll when no event client could be bound.
var ErrNoClient = errors.New("no event client available")

// Client reads the daemon's event log.
// Production: *rest.Client
// Testing: *fake.EventLog
type Client interface {
	// FetchSince returns every event with an id greater than since, in
	// ascending id order. It may block until events are available.
	FetchSince(ctx context.Context, since int64) ([]events.Envelope, error)
	// FetchLatest returns at most one event: the most recent one.
	FetchLatest(ctx context.Context) ([]events.Envelope, error)
}

// ClientSource yields the client to use for one watcher session. It is
// consulted on every Start and again whenever a poll finds no client bound.
type ClientSource func() (Client, error)

// Static returns a ClientSource that always yields c.
func Static(c Client) ClientSource {
	return func() (Client, error) { return c, nil }
}

// CheckpointStore records the last dispatched event id.
// Production: sqlite.CursorStore
type CheckpointStore interface {
	SetCursor(ctx context.Context, name string, eventID int64, updatedAt time.Time) error
}

// Status is a snapshot of the watcher.
type Status struct {
	poller.Status
	Cursor  int64
	Pending int // batches waiting for dispatch
}

type settings struct {
	name            string
	interval        time.Duration
	erroredInterval time.Duration
	newBackOff      func() backoff.BackOff
	tracer          trace.Tracer
	checkpoint      CheckpointStore
	pollerOpts      []poller.Option
}

type Option func(*settings)

// WithName sets the name used in logs, spans and checkpoints.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithInterval sets the wait between successful fetches. The default is
// zero because the event endpoint long-polls.
func WithInterval(d time.Duration) Option {
	return func(s *settings) { s.interval = d }
}

// WithErroredInterval sets the wait after a failed fetch.
func WithErroredInterval(d time.Duration) Option {
	return func(s *settings) { s.erroredInterval = d }
}

// WithErrorBackOff installs a backoff policy for failed fetches.
func WithErrorBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *settings) { s.newBackOff = newBackOff }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithCheckpoint records the last dispatched id after every batch.
func WithCheckpoint(store CheckpointStore) Option {
	return func(s *settings) { s.checkpoint = store }
}

// WithPollerOptions passes extra options to the underlying poll engine.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(s *settings) { s.pollerOpts = append(s.pollerOpts, opts...) }
}

// Watcher follows the daemon event log and dispatches each event, in id
// order, to the registered observers.
//
// Fetching runs on the poll engine's goroutine; dispatch runs on a serial
// work queue so slow observers never delay the next fetch.
type Watcher struct {
	name       string
	source     ClientSource
	queue      *workqueue.Queue
	engine     *poller.Engine
	tracer     trace.Tracer
	checkpoint CheckpointStore
	log        *slog.Logger

	// client is only touched by the poll goroutine.
	client Client
	cursor atomic.Int64

	lastMu   sync.Mutex
	lastTask *workqueue.Task
	pending  atomic.Int32

	notify notifications
}

func New(source ClientSource, opts ...Option) *Watcher {
	check.Assert(source != nil, "watcher.New: source must not be nil")

	s := settings{
		name:            defaultName,
		erroredInterval: defaultErroredInterval,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	w := &Watcher{
		name:       s.name,
		source:     source,
		queue:      workqueue.New(1),
		tracer:     s.tracer,
		checkpoint: s.checkpoint,
		log:        slog.With("component", s.name),
	}
	w.notify.init()

	engineOpts := []poller.Option{
		poller.WithName(s.name),
		poller.WithInterval(s.interval),
		poller.WithErroredInterval(s.erroredInterval),
		poller.WithTracer(s.tracer),
	}
	if s.newBackOff != nil {
		engineOpts = append(engineOpts, poller.WithErrorBackOff(s.newBackOff))
	}
	engineOpts = append(engineOpts, s.pollerOpts...)
	w.engine = poller.New(step{w}, engineOpts...)
	return w
}

// Start begins following the event log from the most recent event.
func (w *Watcher) Start() { w.engine.Start() }

// Stop halts fetching. Batches already fetched are still dispatched.
func (w *Watcher) Stop() { w.engine.Stop() }

// Close stops fetching and waits until every fetched batch is dispatched.
func (w *Watcher) Close() error {
	w.engine.Stop()

	w.lastMu.Lock()
	last := w.lastTask
	w.lastMu.Unlock()
	if last != nil {
		<-last.Done()
	}
	return nil
}

// Running reports whether the poll loop is active.
func (w *Watcher) Running() bool { return w.engine.Running() }

// Cursor returns the id of the last fetched event, 0 before the first fetch
// of a session.
func (w *Watcher) Cursor() int64 { return w.cursor.Load() }

func (w *Watcher) Status() Status {
	return Status{
		Status:  w.engine.Status(),
		Cursor:  w.cursor.Load(),
		Pending: int(w.pending.Load()),
	}
}

func (w *Watcher) onStart() {
	w.cursor.Store(0)
	w.client = nil
	if err := w.bind(); err != nil {
		w.log.Debug("event client not available at start", "err", err)
	}
}

func (w *Watcher) onStop() {
	w.client = nil
}

func (w *Watcher) bind() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client source panicked: %v", r)
		}
	}()
	c, err := w.source()
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNoClient
	}
	w.client = c
	return nil
}

func (w *Watcher) poll(ctx context.Context) error {
	if w.client == nil {
		if err := w.bind(); err != nil {
			return unavailable(err)
		}
	}

	cursor := w.cursor.Load()
	var (
		fetched []events.Envelope
		err     error
	)
	// On the first poll of a session only the newest event is requested, to
	// find the head of the log without replaying history.
	if cursor == 0 {
		fetched, err = w.client.FetchLatest(ctx)
	} else {
		fetched, err = w.client.FetchSince(ctx, cursor)
	}
	if err != nil {
		return fmt.Errorf("fetch events since %d: %w", cursor, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.log.Debug("received events", "count", len(fetched), "cursor", cursor)
	b, ok := w.prepare(cursor, fetched)
	if !ok {
		return nil
	}
	w.cursor.Store(b.lastID())
	w.submit(b)
	return nil
}

// prepare orders a fetched batch, drops anything at or below the cursor and
// decides whether events were skipped. Skips are only detectable at the
// boundary with the previous batch.
func (w *Watcher) prepare(cursor int64, fetched []events.Envelope) (batch, bool) {
	if len(fetched) == 0 {
		return batch{}, false
	}
	cmp := func(a, b events.Envelope) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	if !slices.IsSortedFunc(fetched, cmp) {
		w.log.Debug("event batch out of order, sorting", "count", len(fetched))
		fetched = slices.Clone(fetched)
		slices.SortStableFunc(fetched, cmp)
	}

	start := 0
	for start < len(fetched) && fetched[start].ID <= cursor {
		start++
	}
	if start > 0 {
		w.log.Debug("dropping already seen events", "count", start, "cursor", cursor)
	}
	fetched = fetched[start:]
	if len(fetched) == 0 {
		return batch{}, false
	}

	b := batch{
		events:   fetched,
		lastSeen: cursor,
		skipped:  cursor > 0 && fetched[0].ID != cursor+1,
	}
	return b, true
}

func (w *Watcher) submit(b batch) {
	w.pending.Add(1)
	task := w.queue.Submit(func(ctx context.Context) error {
		defer w.pending.Add(-1)
		return w.dispatch(ctx, b)
	})

	w.lastMu.Lock()
	w.lastTask = task
	w.lastMu.Unlock()

	w.log.Debug("batch queued for dispatch", logAttrs(b)...)
	go w.reportDispatchFailure(task)
}

// reportDispatchFailure logs anything that escaped dispatch, such as a panic
// outside the per-event guard.
func (w *Watcher) reportDispatchFailure(task *workqueue.Task) {
	<-task.Done()
	if err := task.Err(); err != nil {
		w.log.Warn("event dispatch failed", "err", err)
	}
}

// step adapts the watcher to the poll engine without exporting Poll.
type step struct{ w *Watcher }

func (s step) Poll(ctx context.Context) error { return s.w.poll(ctx) }
func (s step) OnStart(context.Context)        { s.w.onStart() }
func (s step) OnStop()                        { s.w.onStop() }

// unavailableError marks a missing client as a transient condition.
type unavailableError struct{ err error }

func unavailable(err error) error { return &unavailableError{err: err} }

func (e *unavailableError) Error() string   { return "bind event client: " + e.err.Error() }
func (e *unavailableError) Unwrap() error   { return e.err }
func (e *unavailableError) Transient() bool { return true }
