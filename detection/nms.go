package detection

import "sort"

// DefaultNMSThreshold is the IOU above which a lower scoring candidate is suppressed
var DefaultNMSThreshold = 0.5

// Suppress runs non-max suppression over a single frame's candidates. Candidates are
// visited in descending score order (equal scores keep their input order); each kept
// candidate suppresses every later candidate that overlaps it by more than iouThreshold.
// The input slice is left untouched.
func Suppress(dets []Detection, iouThreshold float64) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	active := make([]bool, len(sorted))
	for i := range active {
		active[i] = true
	}
	numActive := len(sorted)

	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if !active[i] {
			continue
		}
		kept = append(kept, sorted[i])
		if numActive == 1 {
			break
		}
		for j := i + 1; j < len(sorted); j++ {
			if !active[j] {
				continue
			}
			if IOU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				active[j] = false
				numActive--
			}
		}
	}
	return kept
}
