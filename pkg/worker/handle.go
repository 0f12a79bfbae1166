// Package worker runs one unit of background work and lets a polling loop
// observe it without blocking.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is reported by Poll when a worker outlives its deadline
var ErrTimeout = errors.New("worker did not finish in time")

// ErrStopped is reported by Poll after Stop detached the worker
var ErrStopped = errors.New("worker stopped")

// State is the lifecycle state observed by Poll
type State int

const (
	// Running means the work function has not returned yet
	Running State = iota
	// Finished means the work function returned a result
	Finished
	// Failed means the work function returned an error, panicked, timed out
	// or was stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a point-in-time view of a worker
type Status[R any] struct {
	State  State
	Result R
	Err    error
}

// Func is a unit of work. The context is cancelled when the worker is stopped
// or times out; work functions may ignore it if they are short.
type Func[R any] func(ctx context.Context) (R, error)

// Handle tracks a single started worker
type Handle[R any] struct {
	id       string
	name     string
	started  time.Time
	deadline time.Time
	cancel   context.CancelFunc

	// alive is the liveness flag: it goes false when the work function
	// returns or when the handle is stopped
	alive   atomic.Bool
	stopped atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	result R
	err    error
}

// Start launches fn in a new goroutine. A zero timeout means no deadline.
func Start[R any](name string, timeout time.Duration, fn Func[R]) *Handle[R] {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle[R]{
		id:      uuid.NewString(),
		name:    name,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if timeout > 0 {
		h.deadline = h.started.Add(timeout)
	}
	h.alive.Store(true)

	go h.run(ctx, fn)
	return h
}

func (h *Handle[R]) run(ctx context.Context, fn Func[R]) {
	defer close(h.done)
	defer h.alive.Store(false)

	var (
		result R
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker %s panicked: %v\n%s", h.name, r, debug.Stack())
			}
		}()
		result, err = fn(ctx)
	}()

	h.mu.Lock()
	h.result, h.err = result, err
	h.mu.Unlock()
}

// ID returns the unique id of this run, for log correlation
func (h *Handle[R]) ID() string {
	return h.id
}

// Name returns the name given at Start
func (h *Handle[R]) Name() string {
	return h.name
}

// Started returns when the worker was launched
func (h *Handle[R]) Started() time.Time {
	return h.started
}

// Elapsed returns the time since the worker was launched
func (h *Handle[R]) Elapsed() time.Duration {
	return time.Since(h.started)
}

// Alive reports the liveness flag
func (h *Handle[R]) Alive() bool {
	return h.alive.Load() && !h.stopped.Load()
}

// Poll returns the current status without blocking
func (h *Handle[R]) Poll() Status[R] {
	if h.stopped.Load() {
		return Status[R]{State: Failed, Err: ErrStopped}
	}
	if h.alive.Load() {
		if !h.deadline.IsZero() && time.Now().After(h.deadline) {
			return Status[R]{State: Failed, Err: fmt.Errorf("%s after %s: %w", h.name, h.Elapsed().Round(time.Millisecond), ErrTimeout)}
		}
		return Status[R]{State: Running}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return Status[R]{State: Failed, Err: h.err}
	}
	return Status[R]{State: Finished, Result: h.result}
}

// Stop flips the liveness flag and cancels the worker's context. The work
// function is not interrupted; its result, if any, is discarded.
func (h *Handle[R]) Stop() {
	h.stopped.Store(true)
	h.cancel()
}

// Wait blocks until the goroutine exits or d elapses, reporting whether it exited
func (h *Handle[R]) Wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the goroutine exits
func (h *Handle[R]) Done() <-chan struct{} {
	return h.done
}
