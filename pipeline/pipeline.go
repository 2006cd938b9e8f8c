// Package pipeline runs a detection model's raw output for one camera frame through
// candidate extraction, non-max suppression, identity tracking and target selection.
package pipeline

import (
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gorgonia.org/tensor"

	"github.com/viam-modules/person-follower/detection"
	"github.com/viam-modules/person-follower/target"
	"github.com/viam-modules/person-follower/tracker"
)

// ErrFrameDropped is returned for a frame that arrives while another one is still
// being processed. Stale frames are discarded, never queued.
var ErrFrameDropped = errors.New("frame dropped, previous frame still in flight")

// Pipeline owns the tracking and target state of one camera session. Frames go
// through it one at a time; a frame that overlaps another is dropped.
type Pipeline struct {
	cfg      Config
	params   detection.ExtractParams
	tracker  tracker.Tracker
	selector *target.Selector
	logger   logging.Logger
	stats    *frameStats

	busy           atomic.Bool
	resetRequested atomic.Bool
}

// New returns a pipeline with empty tracking state.
func New(cfg Config, logger logging.Logger, clk clock.Clock) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tr, err := tracker.NewTracker(cfg.TrackingStrategy, cfg.IOUThresholdTracking)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Pipeline{
		cfg:      cfg,
		params:   cfg.extractParams(),
		tracker:  tr,
		selector: target.NewSelector(cfg.Deadzone),
		logger:   logger,
		stats:    newFrameStats(clk),
	}, nil
}

// Process runs one frame's model output through the pipeline. On error the frame is
// skipped: the result is NoPerson and tracking state is left as it was.
func (p *Pipeline) Process(out *tensor.Dense) (target.Result, error) {
	if !p.busy.CompareAndSwap(false, true) {
		p.stats.drop()
		return noPerson(), ErrFrameDropped
	}
	defer p.busy.Store(false)

	if p.resetRequested.Swap(false) {
		p.tracker.Reset()
		p.selector.Reset()
	}

	started := p.stats.start()
	candidates, err := detection.Extract(out, p.params)
	if err != nil {
		p.stats.skip()
		return noPerson(), err
	}
	kept := detection.Suppress(candidates, p.cfg.IOUThresholdNMS)
	tracked := p.tracker.Update(kept)

	previousTarget := p.selector.TargetID()
	res := p.selector.Update(tracked)
	p.stats.finish(started)

	if res.TargetID != previousTarget {
		p.logger.Infow("target changed", "previous", previousTarget, "target", res.TargetID)
	}
	p.logger.Debugw("processed frame",
		"candidates", len(candidates), "kept", len(kept), "target", res.TargetID, "command", res.Command)
	return res, nil
}

// Reset clears tracker and target state before the next frame. It is safe to call
// while a frame is in flight.
func (p *Pipeline) Reset() {
	p.resetRequested.Store(true)
}

// Benchmark returns frame timing statistics. It is safe to call while a frame is in flight.
func (p *Pipeline) Benchmark() Benchmark {
	return p.stats.benchmark()
}

// Config returns the configuration the pipeline was built with
func (p *Pipeline) Config() Config {
	return p.cfg
}

func noPerson() target.Result {
	return target.Result{Detections: []target.Annotated{}, Command: target.NoPerson, TargetID: target.NoTarget}
}
