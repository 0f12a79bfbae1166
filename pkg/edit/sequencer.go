package edit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"segviewer/internal/models"
	"segviewer/pkg/logging"
	"segviewer/pkg/metrics"
	"segviewer/pkg/shared"
	"segviewer/pkg/worker"
)

// State of a sequencer
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// saveBuffer bounds the number of undrained save snapshots before the edit
// worker blocks on delivery.
const saveBuffer = 4

// Options configure a sequencer
type Options struct {
	// Timeout bounds one batch. Zero disables the bound.
	Timeout time.Duration

	Logger logrus.FieldLogger
}

// Sequencer applies edits in submission order without dropping any. Ops
// scheduled while a batch runs wait for the next batch.
type Sequencer struct {
	vol     *shared.Volume
	timeout time.Duration
	logger  logrus.FieldLogger

	mu      sync.Mutex
	pending []Op
	action  Action
	running *worker.Handle[batchResult]

	changed chan struct{}
	saves   chan *models.Volume
}

type batchResult struct {
	ops     int
	mutated bool
}

// NewSequencer creates an idle sequencer editing vol
func NewSequencer(vol *shared.Volume, opts Options) *Sequencer {
	return &Sequencer{
		vol:     vol,
		timeout: opts.Timeout,
		logger:  logging.Or(opts.Logger).WithField("slot", metrics.SlotEdit),
		action:  DefaultAction,
		changed: make(chan struct{}, 1),
		saves:   make(chan *models.Volume, saveBuffer),
	}
}

// Schedule appends op to the pending list. It never starts work.
//
// SetBrushAction is resolved here: it changes the action bound to every later
// PaintStroke that does not carry its own.
func (s *Sequencer) Schedule(op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o := op.(type) {
	case SetBrushAction:
		s.action = Action{From: o.From, To: o.To}
		metrics.RecordEditOp(o.Kind(), "applied")
		s.logger.WithField("action", s.action).Debug("Brush action changed")
		return
	case PaintStroke:
		if o.Action == nil {
			a := s.action
			o.Action = &a
		}
		op = o
	}
	s.pending = append(s.pending, op)
	metrics.RecordScheduled(metrics.SlotEdit)
}

// BrushAction returns the action bound to new paint strokes
func (s *Sequencer) BrushAction() Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.action
}

// Tick harvests a finished batch and starts the next one if ops are pending.
// It reports whether a new batch was started.
func (s *Sequencer) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		st := s.running.Poll()
		switch st.State {
		case worker.Running:
			return false
		case worker.Finished:
			metrics.RecordCompleted(metrics.SlotEdit, s.running.Elapsed())
			s.logger.WithFields(logrus.Fields{
				"ops":     st.Result.ops,
				"mutated": st.Result.mutated,
				"elapsed": s.running.Elapsed(),
			}).Debug("Edit batch finished")
			if st.Result.mutated {
				s.signalChanged()
			}
		case worker.Failed:
			reason := "error"
			if errors.Is(st.Err, worker.ErrTimeout) {
				reason = "timeout"
			}
			metrics.RecordFailed(metrics.SlotEdit, reason)
			s.logger.WithField("reason", reason).WithError(st.Err).Warn("Edit batch failed, sequencer reset")
			s.running.Stop()
		}
		s.running = nil
	}

	if len(s.pending) == 0 {
		return false
	}
	batch := s.pending
	s.pending = nil
	s.running = worker.Start(metrics.SlotEdit, s.timeout, func(ctx context.Context) (batchResult, error) {
		return s.apply(ctx, batch)
	})
	return true
}

// apply runs one batch on a single working copy. Ops compose in order, so the
// published result equals applying them one by one.
func (s *Sequencer) apply(ctx context.Context, batch []Op) (batchResult, error) {
	res := batchResult{ops: len(batch)}
	working := s.vol.Snapshot()
	if working == nil {
		s.logger.WithField("ops", len(batch)).Warn("No segmentation loaded, edits discarded")
		return res, nil
	}

	for _, op := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := op.(Save); ok {
			select {
			case s.saves <- working.Clone():
				metrics.RecordEditOp(op.Kind(), "applied")
			case <-ctx.Done():
				return res, ctx.Err()
			}
			continue
		}

		changed, err := Apply(working, op)
		if err != nil {
			metrics.RecordEditOp(op.Kind(), "skipped")
			s.logger.WithField("op", op.Kind()).WithError(err).Warn("Edit skipped")
			continue
		}
		metrics.RecordEditOp(op.Kind(), "applied")
		res.mutated = res.mutated || changed
	}

	if !res.mutated {
		return res, nil
	}
	// A stopped batch must not publish
	if err := ctx.Err(); err != nil {
		return batchResult{ops: len(batch)}, err
	}
	if err := s.vol.Install(working); err != nil {
		return batchResult{ops: len(batch)}, fmt.Errorf("publish edit batch: %w", err)
	}
	return res, nil
}

func (s *Sequencer) signalChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Changed fires after a batch that modified the segmentation. Signals
// coalesce while undrained.
func (s *Sequencer) Changed() <-chan struct{} {
	return s.changed
}

// Saves carries a snapshot for every executed Save op
func (s *Sequencer) Saves() <-chan *models.Volume {
	return s.saves
}

// State returns Running while a batch is in flight
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil {
		return Running
	}
	return Idle
}

// Pending returns the number of ops waiting for the next batch
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops a running batch and waits up to timeout for it to exit. Ops
// still pending are reported and abandoned.
func (s *Sequencer) Close(timeout time.Duration) error {
	s.mu.Lock()
	running := s.running
	s.running = nil
	abandoned := len(s.pending)
	s.pending = nil
	s.mu.Unlock()

	if abandoned > 0 {
		s.logger.WithField("ops", abandoned).Warn("Pending edits abandoned at shutdown")
	}
	if running == nil {
		return nil
	}
	// A running batch may still publish until the timeout
	if running.Wait(timeout) {
		return nil
	}
	running.Stop()
	s.logger.WithField("worker", running.ID()).Error("Edit worker still running after shutdown timeout")
	return fmt.Errorf("edit worker %s still running after %s", running.ID(), timeout)
}
