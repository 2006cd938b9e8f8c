package tracker

import "github.com/viam-modules/person-follower/detection"

// Greedy matches each current detection to the previous detection it overlaps the
// most. Matching is frame local and not one-to-one: two current detections may
// inherit the same identity.
type Greedy struct {
	state
}

// NewGreedy returns a greedy tracker with a fresh identity counter
func NewGreedy(iouThreshold float64) *Greedy {
	return &Greedy{state: newState(iouThreshold)}
}

// Update implements Tracker.
func (g *Greedy) Update(current []detection.Detection) []detection.Tracked {
	tracked := make([]detection.Tracked, 0, len(current))
	for _, det := range current {
		bestIdx, bestIOU := -1, 0.0
		for i, prev := range g.previous {
			// strictly greater, so the first of equal matches wins
			if iou := detection.IOU(det.Box, prev.Box); iou > bestIOU {
				bestIdx, bestIOU = i, iou
			}
		}
		if bestIdx >= 0 && bestIOU > g.iouThreshold {
			tracked = append(tracked, detection.Tracked{Detection: det, ID: g.previous[bestIdx].ID})
		} else {
			tracked = append(tracked, detection.Tracked{Detection: det, ID: g.issue(), New: true})
		}
	}
	g.advance(tracked)
	return tracked
}

// Reset implements Tracker.
func (g *Greedy) Reset() {
	g.reset()
}
