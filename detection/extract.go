package detection

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// boxAttributes is the number of box parameters (cx, cy, w, h) that precede the class scores.
const boxAttributes = 4

// ErrInvalidInput is returned when the model output tensor cannot be read as
// [1][numAttributes][numCandidates].
var ErrInvalidInput = errors.New("invalid model output tensor")

var (
	// DefaultInputSize is the square side length of the model input, in pixels
	DefaultInputSize = 640
	// DefaultConfidenceThreshold is the score a candidate has to exceed to be kept
	DefaultConfidenceThreshold = 0.6
	// DefaultLabel is the label given to every extracted detection
	DefaultLabel = "person"
)

// ExtractParams configures how candidates are read out of the model output.
type ExtractParams struct {
	// InputSize is the model's square input side, used to normalize box coordinates
	InputSize int
	// ConfidenceThreshold is the exclusive lower bound on a kept candidate's score
	ConfidenceThreshold float64
	// ClassIndex selects the tracked class among the per-class scores
	ClassIndex int
	// Label is attached to every extracted detection
	Label string
}

// DefaultExtractParams returns the parameters for a single class person model with a 640x640 input.
func DefaultExtractParams() ExtractParams {
	return ExtractParams{
		InputSize:           DefaultInputSize,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ClassIndex:          0,
		Label:               DefaultLabel,
	}
}

// Extract reads the candidates out of a raw output tensor of logical shape
// [1][numAttributes][numCandidates]. Each candidate is 4 box parameters in model
// input pixels (center x, center y, width, height) followed by one score per class.
// Candidates scoring at or below the confidence threshold are dropped. Only the
// first batch entry is read.
func Extract(out *tensor.Dense, p ExtractParams) ([]Detection, error) {
	if out == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil tensor")
	}
	if p.InputSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "input size must be positive, got %d", p.InputSize)
	}
	shape := out.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(ErrInvalidInput, "expected rank 3 tensor, got shape %v", shape)
	}
	numAttrs, numCands := shape[1], shape[2]
	if shape[0] < 1 || numCands < 1 {
		return nil, errors.Wrapf(ErrInvalidInput, "empty tensor with shape %v", shape)
	}
	scoreAttr := boxAttributes + p.ClassIndex
	if p.ClassIndex < 0 || numAttrs <= scoreAttr {
		return nil, errors.Wrapf(ErrInvalidInput,
			"class index %d needs at least %d attributes, got shape %v", p.ClassIndex, scoreAttr+1, shape)
	}

	data, narrow, err := floatData(out)
	if err != nil {
		return nil, err
	}
	threshold := p.ConfidenceThreshold
	if narrow {
		// compare at the precision the model produced the scores in
		threshold = float64(float32(threshold))
	}
	// attribute-major: value a of candidate c lives at a*numCands + c
	at := func(attr, cand int) float64 {
		return data[attr*numCands+cand]
	}

	size := float64(p.InputSize)
	detections := make([]Detection, 0)
	for c := 0; c < numCands; c++ {
		score := at(scoreAttr, c)
		if score <= threshold {
			continue
		}
		cx, cy, w, h := at(0, c), at(1, c), at(2, c), at(3, c)
		detections = append(detections, Detection{
			Box: Box{
				X1: (cx - w/2) / size,
				Y1: (cy - h/2) / size,
				X2: (cx + w/2) / size,
				Y2: (cy + h/2) / size,
			},
			Score: score,
			Label: p.Label,
		})
	}
	return detections, nil
}

// floatData returns the tensor's backing data widened to float64, and whether it was float32.
func floatData(out *tensor.Dense) ([]float64, bool, error) {
	switch d := out.Data().(type) {
	case []float32:
		res := make([]float64, len(d))
		for i, v := range d {
			res[i] = float64(v)
		}
		return res, true, nil
	case []float64:
		return d, false, nil
	default:
		return nil, false, errors.Wrapf(ErrInvalidInput, "unsupported tensor data type %T", d)
	}
}
