package detection

import "math"

// iouEpsilon keeps IOU finite when both boxes are degenerate.
const iouEpsilon = 1e-6

// IOU returns the intersection over union of 2 boxes
func IOU(a, b Box) float64 {
	ix1, iy1 := math.Max(a.X1, b.X1), math.Max(a.Y1, b.Y1)
	ix2, iy2 := math.Min(a.X2, b.X2), math.Min(a.Y2, b.Y2)

	intersection := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	return intersection / (a.Area() + b.Area() - intersection + iouEpsilon)
}
