// Package poller runs a poll step in a self-driving loop with retry.
//
// An Engine has two states, stopped and running, switched by Start and Stop
// under a single mutex. Each Start creates a fresh cancellation context for
// the session; Stop cancels it and joins the loop goroutine. Every poll
// outcome is classified:
//
//   - success: wait the steady interval, then poll again
//   - transient failure: wait the errored interval, then poll again
//   - unexpected failure: log a warning, then behave as transient
//   - the session's own cancellation: exit
//
// Optional Starter and Stopper hooks on the step bracket each session.
package poller
