package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roseeng/SyncTrayzor/internal/check"
)

const (
	// DefaultErroredInterval is how long the loop backs off after a failed poll.
	DefaultErroredInterval = 1 * time.Second

	tracerName = "github.com/roseeng/SyncTrayzor/internal/poller"
)

// Step is one poll iteration. Poll should return ctx.Err() (or an error
// wrapping it) when it observes cancellation.
type Step interface {
	Poll(ctx context.Context) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context) error

func (f StepFunc) Poll(ctx context.Context) error { return f(ctx) }

// Starter is implemented by steps that need per-session initialization.
// OnStart runs on the loop goroutine before the first Poll of a session.
type Starter interface {
	OnStart(ctx context.Context)
}

// Stopper is implemented by steps that release per-session state.
// OnStop runs exactly once when a session's loop exits.
type Stopper interface {
	OnStop()
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running     bool
	RunID       string
	Failures    int // consecutive failed polls
	LastErr     string
	LastSuccess time.Time
}

// Engine drives a Step in a loop on its own goroutine until stopped.
type Engine struct {
	step            Step
	name            string
	interval        time.Duration
	erroredInterval time.Duration
	newBackOff      func() backoff.BackOff
	tracer          trace.Tracer
	sleep           func(ctx context.Context, d time.Duration) bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	statusMu sync.RWMutex
	status   Status
}

type Option func(*Engine)

// WithInterval sets the wait between successful polls. Zero polls again
// immediately.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithErroredInterval sets the wait after a failed poll.
func WithErroredInterval(d time.Duration) Option {
	return func(e *Engine) { e.erroredInterval = d }
}

// WithErrorBackOff replaces the constant errored wait with a backoff policy.
// The policy is reset after every successful poll; when it returns
// backoff.Stop the errored interval is used and the policy restarts.
func WithErrorBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *Engine) { e.newBackOff = newBackOff }
}

// WithTracer sets the tracer used for poll spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithName sets the component name used in logs and span names.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithSleep replaces the cancellable wait used between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func New(step Step, opts ...Option) *Engine {
	check.Assert(step != nil, "poller.New: step must not be nil")
	e := &Engine{
		step:            step,
		name:            "poller",
		erroredInterval: DefaultErroredInterval,
		sleep:           sleepWithContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newBackOff == nil {
		errored := e.erroredInterval
		e.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(errored) }
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Start launches the poll loop. It is a no-op while already running. If a
// previous session is still unwinding, Start waits for it first.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The lock is released while waiting so Running and Stop stay responsive.
	for !e.running && e.done != nil {
		prev := e.done
		select {
		case <-prev:
			e.done = nil
			continue
		default:
		}
		e.mu.Unlock()
		<-prev
		e.mu.Lock()
	}
	if e.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	runID := uuid.NewString()
	done := make(chan struct{})
	e.running = true
	e.cancel = cancel
	e.done = done

	e.statusMu.Lock()
	e.status = Status{Running: true, RunID: runID}
	e.statusMu.Unlock()

	go func() {
		defer close(done)
		e.run(ctx, runID)
	}()
}

// Stop cancels the running session and waits for its loop to exit. It is a
// no-op when stopped. Stop must not be called from inside Poll or the hooks.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	<-done
}

// Close stops the engine.
func (e *Engine) Close() error {
	e.Stop()
	return nil
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) run(ctx context.Context, runID string) {
	log := slog.With("component", e.name, "run", runID)
	log.Debug("poll loop starting")

	defer func() {
		e.statusMu.Lock()
		e.status.Running = false
		e.statusMu.Unlock()
		log.Debug("poll loop stopped")
	}()

	if s, ok := e.step.(Stopper); ok {
		defer e.runHook(log, "stop", s.OnStop)
	}
	if s, ok := e.step.(Starter); ok {
		e.runHook(log, "start", func() { s.OnStart(ctx) })
	}

	boff := e.newBackOff()
	boff.Reset()

	for ctx.Err() == nil {
		err := e.pollOnce(ctx, runID)
		outcome := classify(ctx, err)

		switch outcome {
		case outcomeOK:
			boff.Reset()
			e.recordSuccess()
			if e.interval > 0 && !e.sleep(ctx, e.interval) {
				return
			}
		case outcomeStopped:
			return
		case outcomeTransient, outcomeUnexpected:
			failures := e.recordFailure(err)
			wait := boff.NextBackOff()
			if wait == backoff.Stop {
				wait = e.erroredInterval
				boff.Reset()
			}
			if outcome == outcomeUnexpected {
				log.Warn("unexpected error while polling", "err", err, "failures", failures, "retry_in", wait)
			} else {
				log.Debug("poll failed, retrying", "err", err, "failures", failures, "retry_in", wait)
			}
			if !e.sleep(ctx, wait) {
				return
			}
		}
	}
}

// runHook calls a session hook. A panicking hook is logged and the session
// carries on.
func (e *Engine) runHook(log *slog.Logger, name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("session hook panicked", "hook", name, "panic", r)
		}
	}()
	hook()
}

func (e *Engine) pollOnce(ctx context.Context, runID string) (err error) {
	spanCtx, span := e.tracer.Start(ctx, e.name+".poll", trace.WithAttributes(
		attribute.String("poller.run_id", runID),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
		}
		if err != nil && ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return e.step.Poll(spanCtx)
}

func (e *Engine) recordSuccess() {
	e.statusMu.Lock()
	e.status.Failures = 0
	e.status.LastErr = ""
	e.status.LastSuccess = time.Now()
	e.statusMu.Unlock()
}

func (e *Engine) recordFailure(err error) int {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.Failures++
	if err != nil {
		e.status.LastErr = err.Error()
	}
	return e.status.Failures
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
