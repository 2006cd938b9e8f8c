package follower

import (
	"strings"
	"time"

	"github.com/viam-modules/person-follower/detection"
	"github.com/viam-modules/person-follower/tracker"
)

// GetTimestamp will retrieve and format a timestamp to be YYYYMMDD_HHMMSS
func GetTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// trackedObject is one log entry, written whenever the tracker issues a new identity.
type trackedObject struct {
	FullLabel string
	Label     string
	ID        int
	Time      string
}

func newTrackedObject(tr detection.Tracked, now time.Time) trackedObject {
	ts := GetTimestamp(now)
	return trackedObject{
		FullLabel: tracker.Label(tr.Label, tr.ID) + "_" + ts,
		Label:     strings.ToLower(tr.Label),
		ID:        tr.ID,
		Time:      ts,
	}
}

// freshObjects returns a log entry for every identity issued on this frame.
func freshObjects(tracked []detection.Tracked, now time.Time) []trackedObject {
	var out []trackedObject
	for _, tr := range tracked {
		if tr.New {
			out = append(out, newTrackedObject(tr, now))
		}
	}
	return out
}

// detectionLabel is the label a tracked person is published under; the target is suffixed.
func detectionLabel(tr detection.Tracked, isTarget bool) string {
	label := tracker.Label(tr.Label, tr.ID)
	if isTarget {
		label += "_target"
	}
	return label
}
