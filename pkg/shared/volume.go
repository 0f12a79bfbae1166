// Package shared publishes a volume to concurrent readers and writers.
//
// A SharedVolume never exposes partial writes. Writers compute a complete new
// buffer and publish it with Install; readers either take an owned Snapshot or
// read the published buffer through Current, which is never mutated once
// published.
package shared

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"segviewer/internal/models"
	"segviewer/pkg/logging"
)

// ErrShapeMismatch is returned by Install when the new buffer does not match
// the configured shape.
var ErrShapeMismatch = errors.New("volume shape does not match installed shape")

type published struct {
	vol        *models.Volume
	generation uint64
}

// Volume is the shared volume.
type Volume struct {
	name   string
	logger logrus.FieldLogger

	// mu serializes writers; readers only load the pointer
	mu      sync.Mutex
	shape   []int
	current atomic.Pointer[published]
	gen     uint64
}

// New creates an empty shared volume. name is only used in log lines.
func New(name string, logger logrus.FieldLogger) *Volume {
	s := &Volume{
		name:   name,
		logger: logging.Or(logger).WithField("volume", name),
	}
	s.current.Store(&published{})
	return s
}

// Install publishes v as the new content. The caller hands over ownership and
// must not touch v afterwards. A shape different from the configured one is
// rejected with ErrShapeMismatch.
func (s *Volume) Install(v *models.Volume) error {
	if v == nil {
		return fmt.Errorf("install %s: nil volume", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shape != nil && !models.ShapesEqual(s.shape, v.Shape) {
		return fmt.Errorf("install %s with shape %v over %v: %w", s.name, v.Shape, s.shape, ErrShapeMismatch)
	}
	s.publishLocked(v)
	return nil
}

// Replace publishes v and resets the configured shape to v's shape. It is the
// path for loading or clearing a case. A nil v leaves the volume absent.
func (s *Volume) Replace(v *models.Volume) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v == nil {
		s.shape = nil
	} else {
		s.shape = append([]int(nil), v.Shape...)
	}
	s.publishLocked(v)
}

func (s *Volume) publishLocked(v *models.Volume) {
	s.gen++
	s.current.Store(&published{vol: v, generation: s.gen})

	if v == nil {
		s.logger.WithField("generation", s.gen).Info("Volume cleared")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"generation": s.gen,
		"shape":      v.Shape,
		"voxels":     humanize.Comma(int64(v.Len())),
		"memory":     humanize.Bytes(uint64(size.Of(v))),
	}).Debug("Volume installed")
}

// Snapshot returns an owned copy of the current content, or nil when absent.
func (s *Volume) Snapshot() *models.Volume {
	return s.current.Load().vol.Clone()
}

// Current returns the published buffer without copying. The result must be
// treated as read-only.
func (s *Volume) Current() *models.Volume {
	return s.current.Load().vol
}

// CurrentWithGeneration returns the published buffer and its generation
// from a single atomic load.
func (s *Volume) CurrentWithGeneration() (*models.Volume, uint64) {
	p := s.current.Load()
	return p.vol, p.generation
}

// Generation returns the number of publishes so far
func (s *Volume) Generation() uint64 {
	return s.current.Load().generation
}

// Shape returns the configured shape, or nil when no volume is installed
func (s *Volume) Shape() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.shape...)
}
