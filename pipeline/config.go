package pipeline

import (
	"github.com/pkg/errors"

	"github.com/viam-modules/person-follower/detection"
	"github.com/viam-modules/person-follower/target"
	"github.com/viam-modules/person-follower/tracker"
)

// Config holds the tunable constants of the per-frame pipeline.
type Config struct {
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	IOUThresholdNMS      float64 `json:"iou_threshold_nms"`
	IOUThresholdTracking float64 `json:"iou_threshold_tracking"`
	Deadzone             float64 `json:"deadzone"`
	InputSize            int     `json:"input_size"`
	ClassIndex           int     `json:"class_index"`
	Label                string  `json:"label"`
	TrackingStrategy     string  `json:"tracking_strategy"`
}

// DefaultConfig returns the configuration for a 640x640 single class person detector.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:  detection.DefaultConfidenceThreshold,
		IOUThresholdNMS:      detection.DefaultNMSThreshold,
		IOUThresholdTracking: tracker.DefaultIOUThreshold,
		Deadzone:             target.DefaultDeadzone,
		InputSize:            detection.DefaultInputSize,
		ClassIndex:           0,
		Label:                detection.DefaultLabel,
		TrackingStrategy:     tracker.DefaultStrategy,
	}
}

// Validate checks that every value is in range.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.New("confidence_threshold must be between 0.0 and 1.0")
	}
	if c.IOUThresholdNMS < 0 || c.IOUThresholdNMS > 1 {
		return errors.New("iou_threshold_nms must be between 0.0 and 1.0")
	}
	if c.IOUThresholdTracking < 0 || c.IOUThresholdTracking > 1 {
		return errors.New("iou_threshold_tracking must be between 0.0 and 1.0")
	}
	if c.Deadzone < 0 || c.Deadzone > 0.5 {
		return errors.New("deadzone must be between 0.0 and 0.5")
	}
	if c.InputSize <= 0 {
		return errors.Errorf("input_size must be positive, got %d", c.InputSize)
	}
	if c.ClassIndex < 0 {
		return errors.Errorf("class_index cannot be less than 0, got %d", c.ClassIndex)
	}
	switch c.TrackingStrategy {
	case "", tracker.StrategyGreedy, tracker.StrategyHungarian:
	default:
		return errors.Errorf("tracking_strategy must be %q or %q, got %q",
			tracker.StrategyGreedy, tracker.StrategyHungarian, c.TrackingStrategy)
	}
	return nil
}

func (c Config) extractParams() detection.ExtractParams {
	label := c.Label
	if label == "" {
		label = detection.DefaultLabel
	}
	return detection.ExtractParams{
		InputSize:           c.InputSize,
		ConfidenceThreshold: c.ConfidenceThreshold,
		ClassIndex:          c.ClassIndex,
		Label:               label,
	}
}
