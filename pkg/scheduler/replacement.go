// Package scheduler manages a render worker slot with last-request-wins
// semantics.
//
// Render requests arrive much faster than a worker can finish a render, so
// queueing them would make the display fall further and further behind. A
// Replacement slot keeps at most one pending request: every Schedule
// overwrites it, and Tick starts it only when no worker is running. The
// displayed image therefore converges on the latest input with a latency of
// about one render.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"segviewer/pkg/logging"
	"segviewer/pkg/metrics"
	"segviewer/pkg/worker"
)

// State of a slot
type State int

const (
	// Idle means no worker is running; a request may be pending
	Idle State = iota
	// Running means a worker is running and nothing is pending
	Running
	// RunningWithPending means a worker is running and a newer request waits
	RunningWithPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RunningWithPending:
		return "running_with_pending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Func computes the result for one request
type Func[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Options configure a slot
type Options struct {
	// Name identifies the slot in logs and metrics
	Name string

	// Timeout bounds a single worker run. Zero disables the bound.
	Timeout time.Duration

	Logger logrus.FieldLogger
}

// Replacement is a single worker slot parameterized by request and result type.
// All methods are non-blocking except Close.
type Replacement[Req, Res any] struct {
	name    string
	fn      Func[Req, Res]
	timeout time.Duration
	logger  logrus.FieldLogger

	mu         sync.Mutex
	pending    Req
	hasPending bool
	running    *worker.Handle[Res]
	out        chan Res
}

// NewReplacement creates an idle slot that runs fn for each started request
func NewReplacement[Req, Res any](fn Func[Req, Res], opts Options) *Replacement[Req, Res] {
	return &Replacement[Req, Res]{
		name:    opts.Name,
		fn:      fn,
		timeout: opts.Timeout,
		logger:  logging.Or(opts.Logger).WithField("slot", opts.Name),
		out:     make(chan Res, 1),
	}
}

// Schedule replaces any pending request with req. It never starts work.
func (s *Replacement[Req, Res]) Schedule(req Req) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasPending {
		metrics.RecordSuperseded(s.name)
	}
	s.pending = req
	s.hasPending = true
	metrics.RecordScheduled(s.name)
}

// Tick harvests a finished worker and starts the pending request if the slot
// is free. It reports whether a new worker was started.
func (s *Replacement[Req, Res]) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		st := s.running.Poll()
		switch st.State {
		case worker.Running:
			return false
		case worker.Finished:
			metrics.RecordCompleted(s.name, s.running.Elapsed())
			s.deliverLocked(st.Result)
		case worker.Failed:
			s.failLocked(st.Err)
		}
		s.running = nil
	}

	if !s.hasPending {
		return false
	}

	req := s.pending
	var zero Req
	s.pending, s.hasPending = zero, false

	s.running = worker.Start(s.name, s.timeout, func(ctx context.Context) (Res, error) {
		return s.fn(ctx, req)
	})
	s.logger.WithField("worker", s.running.ID()).Trace("Worker started")
	return true
}

func (s *Replacement[Req, Res]) failLocked(err error) {
	reason := "error"
	if errors.Is(err, worker.ErrTimeout) {
		reason = "timeout"
	}
	metrics.RecordFailed(s.name, reason)
	s.logger.WithFields(logrus.Fields{
		"worker": s.running.ID(),
		"reason": reason,
	}).WithError(err).Warn("Worker failed, slot reset")

	// A worker that overran its deadline keeps running detached; its result
	// will never be delivered.
	s.running.Stop()
}

// deliverLocked puts res on the output channel, replacing an undrained result.
func (s *Replacement[Req, Res]) deliverLocked(res Res) {
	select {
	case s.out <- res:
		return
	default:
	}
	select {
	case <-s.out:
		metrics.RecordDropped(s.name)
	default:
	}
	select {
	case s.out <- res:
	default:
	}
}

// Output carries at most one finished result at a time
func (s *Replacement[Req, Res]) Output() <-chan Res {
	return s.out
}

// TryReceive takes a finished result if one is available
func (s *Replacement[Req, Res]) TryReceive() (Res, bool) {
	select {
	case res := <-s.out:
		return res, true
	default:
		var zero Res
		return zero, false
	}
}

// State returns the current slot state
func (s *Replacement[Req, Res]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.running == nil:
		return Idle
	case s.hasPending:
		return RunningWithPending
	default:
		return Running
	}
}

// Pending reports whether a request waits to be started
func (s *Replacement[Req, Res]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPending
}

// Reset drops the pending request, detaches the running worker and discards
// any undrained result. The slot is idle afterwards.
func (s *Replacement[Req, Res]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Replacement[Req, Res]) resetLocked() *worker.Handle[Res] {
	var zero Req
	s.pending, s.hasPending = zero, false

	running := s.running
	if running != nil {
		running.Stop()
		s.running = nil
	}
	select {
	case <-s.out:
	default:
	}
	return running
}

// Close resets the slot and waits up to timeout for a running worker to exit.
// A worker still running after that is reported as an error, not masked.
func (s *Replacement[Req, Res]) Close(timeout time.Duration) error {
	s.mu.Lock()
	running := s.resetLocked()
	s.mu.Unlock()

	if running == nil || running.Wait(timeout) {
		return nil
	}
	s.logger.WithField("worker", running.ID()).Error("Worker still running after shutdown timeout")
	return fmt.Errorf("%s worker %s still running after %s", s.name, running.ID(), timeout)
}
