package tracker

import (
	hg "github.com/charles-haynes/munkres"

	"github.com/viam-modules/person-follower/detection"
)

// Hungarian matches previous and current detections one-to-one by solving the
// assignment problem over the whole frame with Munkres' method. Pairs that do not
// overlap by more than the threshold are left unmatched.
type Hungarian struct {
	state
}

// NewHungarian returns a one-to-one tracker with a fresh identity counter
func NewHungarian(iouThreshold float64) *Hungarian {
	return &Hungarian{state: newState(iouThreshold)}
}

// Update implements Tracker.
func (h *Hungarian) Update(current []detection.Detection) []detection.Tracked {
	inherited := make([]int, len(current))
	for i := range inherited {
		inherited[i] = -1
	}

	if len(h.previous) > 0 && len(current) > 0 {
		matchMtx := buildMatchingMatrix(h.previous, current)
		if HA, err := hg.NewHungarianAlgorithm(matchMtx); err == nil {
			for prevIdx, curIdx := range HA.Execute() {
				if curIdx < 0 || curIdx >= len(current) {
					continue
				}
				// cost is -IOU
				if -matchMtx[prevIdx][curIdx] > h.iouThreshold {
					inherited[curIdx] = h.previous[prevIdx].ID
				}
			}
		}
	}

	tracked := make([]detection.Tracked, 0, len(current))
	for i, det := range current {
		if inherited[i] >= 0 {
			tracked = append(tracked, detection.Tracked{Detection: det, ID: inherited[i]})
		} else {
			tracked = append(tracked, detection.Tracked{Detection: det, ID: h.issue(), New: true})
		}
	}
	h.advance(tracked)
	return tracked
}

// Reset implements Tracker.
func (h *Hungarian) Reset() {
	h.reset()
}

// buildMatchingMatrix sets up a cost matrix for the Hungarian algorithm, one row per
// previous detection and one column per current detection.
// Cost is -IOU between bboxes (b/c solver will find min)
func buildMatchingMatrix(previous []detection.Tracked, current []detection.Detection) [][]float64 {
	matchMtx := make([][]float64, len(previous))
	for i, prev := range previous {
		row := make([]float64, len(current))
		for j, cur := range current {
			row[j] = -detection.IOU(prev.Box, cur.Box)
		}
		matchMtx[i] = row
	}
	return matchMtx
}
