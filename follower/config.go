package follower

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-modules/person-follower/pipeline"
)

var (
	// DefaultMaxFrequency caps how many frames per second the loop processes
	DefaultMaxFrequency = 10.0
	// DefaultAnnounceInterval is the minimum time between two announcements, in seconds
	DefaultAnnounceInterval = 2.0
	// DefaultInputTensorName is fed the frame when the model metadata has no input name
	DefaultInputTensorName = "image"
)

// Config contains names for necessary resources (camera and ML model service)
// and the tunables of the follower pipeline.
type Config struct {
	CameraName           string   `json:"camera_name"`
	MLModelName          string   `json:"mlmodel_name"`
	ConfidenceThreshold  *float64 `json:"confidence_threshold,omitempty"`
	IOUThresholdNMS      *float64 `json:"iou_threshold_nms,omitempty"`
	IOUThresholdTracking *float64 `json:"iou_threshold_tracking,omitempty"`
	Deadzone             *float64 `json:"deadzone,omitempty"`
	InputSize            int      `json:"input_size,omitempty"`
	ClassIndex           int      `json:"class_index,omitempty"`
	Label                string   `json:"label,omitempty"`
	TrackingStrategy     string   `json:"tracking_strategy,omitempty"`
	InputTensorName      string   `json:"input_tensor_name,omitempty"`
	OutputTensorName     string   `json:"output_tensor_name,omitempty"`
	MaxFrequency         float64  `json:"max_frequency_hz"`
	AnnounceInterval     *float64 `json:"announce_interval_s,omitempty"`
	AnnotateImage        bool     `json:"annotate_image,omitempty"`
}

// Validate validates the config and returns implicit dependencies,
// this Validate checks if the camera and ML model service exist for the module's vision model.
func (cfg *Config) Validate(path string) ([]string, error) {
	var err error
	// this makes them required for the model to successfully build
	if cfg.CameraName == "" {
		err = multierr.Append(err, fmt.Errorf(`expected "camera_name" attribute for person follower %q`, path))
	}
	if cfg.MLModelName == "" {
		err = multierr.Append(err, fmt.Errorf(`expected "mlmodel_name" attribute for person follower %q`, path))
	}
	if cfg.MaxFrequency < 0 {
		// if 0, will be set to default later
		err = multierr.Append(err, errors.New("max_frequency_hz must be a positive number"))
	}
	if cfg.AnnounceInterval != nil && *cfg.AnnounceInterval < 0 {
		err = multierr.Append(err, errors.New("announce_interval_s is a duration given in seconds and should be above 0"))
	}
	if cfg.InputSize < 0 {
		err = multierr.Append(err, errors.New("input_size cannot be less than 0"))
	}
	pc := cfg.pipelineConfig()
	if pc.InputSize == 0 {
		// resolved from the model metadata at construction
		pc.InputSize = pipeline.DefaultConfig().InputSize
	}
	if pcErr := pc.Validate(); pcErr != nil {
		err = multierr.Append(err, errors.Wrapf(pcErr, "invalid person follower config %q", path))
	}
	if err != nil {
		return nil, err
	}

	// Return the resource names so that newFollower can access them as dependencies.
	return []string{cfg.CameraName, cfg.MLModelName}, nil
}

// pipelineConfig overlays the configured attributes on the pipeline defaults.
// InputSize stays 0 when unset so it can be taken from the model.
func (cfg *Config) pipelineConfig() pipeline.Config {
	pc := pipeline.DefaultConfig()
	if cfg.ConfidenceThreshold != nil {
		pc.ConfidenceThreshold = *cfg.ConfidenceThreshold
	}
	if cfg.IOUThresholdNMS != nil {
		pc.IOUThresholdNMS = *cfg.IOUThresholdNMS
	}
	if cfg.IOUThresholdTracking != nil {
		pc.IOUThresholdTracking = *cfg.IOUThresholdTracking
	}
	if cfg.Deadzone != nil {
		pc.Deadzone = *cfg.Deadzone
	}
	pc.InputSize = cfg.InputSize
	pc.ClassIndex = cfg.ClassIndex
	if cfg.Label != "" {
		pc.Label = cfg.Label
	}
	if cfg.TrackingStrategy != "" {
		pc.TrackingStrategy = cfg.TrackingStrategy
	}
	return pc
}
