// Package tracker gives the people detected in consecutive frames stable identities.
package tracker

import (
	"github.com/pkg/errors"

	"github.com/viam-modules/person-follower/detection"
)

const (
	// StrategyGreedy matches every detection to its best overlapping predecessor
	StrategyGreedy = "greedy"
	// StrategyHungarian solves a one-to-one assignment over the whole frame
	StrategyHungarian = "hungarian"

	// firstID is the first identity issued, and the one issued again after an empty frame
	firstID = 1
)

var (
	// DefaultIOUThreshold is the overlap a detection needs with a previous one to inherit its identity
	DefaultIOUThreshold = 0.5
	// DefaultStrategy is used when no strategy is configured
	DefaultStrategy = StrategyGreedy
)

// Tracker assigns identities to one frame of detections at a time. Implementations
// keep the previous frame as state and are not safe for concurrent use.
type Tracker interface {
	// Update assigns identities to the current frame's detections, in order, and
	// makes them the reference for the next frame.
	Update(current []detection.Detection) []detection.Tracked
	// Reset forgets the previous frame and restarts identities at 1.
	Reset()
}

// NewTracker returns a tracker for the named strategy. An empty name selects the default.
func NewTracker(strategy string, iouThreshold float64) (Tracker, error) {
	switch strategy {
	case "", StrategyGreedy:
		return NewGreedy(iouThreshold), nil
	case StrategyHungarian:
		return NewHungarian(iouThreshold), nil
	default:
		return nil, errors.Errorf("unknown tracking strategy %q, expected %q or %q",
			strategy, StrategyGreedy, StrategyHungarian)
	}
}

// state is the part shared by every strategy: the last frame and the identity counter.
type state struct {
	iouThreshold float64
	previous     []detection.Tracked
	nextID       int
}

func newState(iouThreshold float64) state {
	return state{iouThreshold: iouThreshold, nextID: firstID}
}

func (s *state) issue() int {
	id := s.nextID
	s.nextID++
	return id
}

// advance stores the tracked frame. An empty frame restarts the counter, so
// identities are reused once the scene has emptied out.
func (s *state) advance(tracked []detection.Tracked) {
	s.previous = append([]detection.Tracked(nil), tracked...)
	if len(tracked) == 0 {
		s.nextID = firstID
	}
}

func (s *state) reset() {
	s.previous = nil
	s.nextID = firstID
}
