// Package detection turns raw detection model output into per-frame person detections.
// This file contains the detection types shared by the tracker and the target selector.
package detection

// Box is an axis-aligned bounding box in normalized [0,1] frame coordinates.
// X1 <= X2 and Y1 <= Y2; a box may be degenerate but never inverted.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Area returns the area of the box
func (b Box) Area() float64 {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// CenterX returns the horizontal center of the box
func (b Box) CenterX() float64 {
	return (b.X1 + b.X2) / 2
}

// Detection is one recognized object in a single frame. It carries no identity,
// identities are assigned by the tracker and returned as Tracked values.
type Detection struct {
	Box   Box
	Score float64
	Label string
}

// Tracked is a detection together with the identity the tracker gave it.
// New is true when the identity was issued on this frame rather than inherited.
type Tracked struct {
	Detection
	ID  int
	New bool
}
