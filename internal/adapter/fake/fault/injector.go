// Package fault injects failures into fake adapters at named points.
package fault

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roseeng/SyncTrayzor/internal/check"
)

// Hook inspects the arguments of a call and may fail it.
type Hook func(args ...any) error

type rule struct {
	queued []error // consumed one per evaluation
	always error
	hook   Hook
	hits   int
}

// Injector holds the faults configured per point. The zero value is not
// usable; call NewInjector.
type Injector struct {
	mu    sync.Mutex
	rules map[string]*rule
}

func NewInjector() *Injector {
	return &Injector{rules: make(map[string]*rule)}
}

// FailOnce fails the next evaluation of point with err.
func (i *Injector) FailOnce(point string, err error) {
	i.FailTimes(point, 1, err)
}

// FailTimes fails the next n evaluations of point with err.
func (i *Injector) FailTimes(point string, n int, err error) {
	check.Assert(n > 0, "fault.Injector.FailTimes: n must be positive")
	check.Assert(err != nil, "fault.Injector.FailTimes: err must not be nil")
	if n <= 0 || err == nil {
		return
	}
	i.with(point, func(r *rule) {
		for range n {
			r.queued = append(r.queued, err)
		}
	})
}

// FailAlways fails every evaluation of point with err until cleared.
func (i *Injector) FailAlways(point string, err error) {
	check.Assert(err != nil, "fault.Injector.FailAlways: err must not be nil")
	if err == nil {
		return
	}
	i.with(point, func(r *rule) { r.always = err })
}

// SetHook runs hook with the call arguments on every evaluation of point.
func (i *Injector) SetHook(point string, hook Hook) {
	check.Assert(hook != nil, "fault.Injector.SetHook: hook must not be nil")
	if hook == nil {
		return
	}
	i.with(point, func(r *rule) { r.hook = hook })
}

func (i *Injector) Clear(point string) {
	i.mu.Lock()
	delete(i.rules, point)
	i.mu.Unlock()
}

func (i *Injector) Reset() {
	i.mu.Lock()
	i.rules = make(map[string]*rule)
	i.mu.Unlock()
}

// Hits reports how many evaluations of point returned an error.
func (i *Injector) Hits(point string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if r := i.rules[point]; r != nil {
		return r.hits
	}
	return 0
}

// Eval returns the fault configured for this call of point, if any.
// The hook is consulted first, then queued errors, then the permanent one.
func (i *Injector) Eval(point string, args ...any) error {
	check.Assert(strings.TrimSpace(point) != "", "fault.Injector.Eval: point must not be empty")

	i.mu.Lock()
	r := i.rules[point]
	if r == nil {
		i.mu.Unlock()
		return nil
	}
	hook := r.hook
	var queued error
	if len(r.queued) > 0 {
		queued, r.queued = r.queued[0], r.queued[1:]
	}
	always := r.always
	i.mu.Unlock()

	var hookErr error
	if hook != nil {
		hookErr = hook(args...)
	}

	var err error
	switch {
	case hookErr != nil:
		err = fmt.Errorf("fault %s (hook): %w", point, hookErr)
	case queued != nil:
		err = fmt.Errorf("fault %s (queued): %w", point, queued)
	case always != nil:
		err = fmt.Errorf("fault %s (always): %w", point, always)
	}
	if err != nil {
		i.mu.Lock()
		r.hits++
		i.mu.Unlock()
	}
	return err
}

func (i *Injector) with(point string, fn func(*rule)) {
	check.Assert(strings.TrimSpace(point) != "", "fault.Injector: point must not be empty")
	if strings.TrimSpace(point) == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.rules[point]
	if !ok {
		r = &rule{}
		i.rules[point] = r
	}
	fn(r)
}
