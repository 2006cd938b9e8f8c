package follower

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/rdk/ml"
	"gorgonia.org/tensor"
)

// frameToTensor resizes the frame to the model's square input and lays it out as
// [1][size][size][3] RGB, either as float32 scaled to [0,1] or as raw uint8.
func frameToTensor(img image.Image, size int, dataType string) (*tensor.Dense, error) {
	if img.Bounds().Empty() {
		return nil, errors.Errorf("empty frame %v", img.Bounds())
	}
	resized := imaging.Resize(img, size, size, imaging.Linear)
	n := size * size * 3

	if dataType == "uint8" {
		backing := make([]uint8, 0, n)
		eachPixel(resized, func(r, g, b uint8) {
			backing = append(backing, r, g, b)
		})
		return tensor.New(tensor.WithShape(1, size, size, 3), tensor.WithBacking(backing)), nil
	}

	backing := make([]float32, 0, n)
	eachPixel(resized, func(r, g, b uint8) {
		backing = append(backing, float32(r)/255, float32(g)/255, float32(b)/255)
	})
	return tensor.New(tensor.WithShape(1, size, size, 3), tensor.WithBacking(backing)), nil
}

func eachPixel(img *image.NRGBA, fn func(r, g, b uint8)) {
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < bounds.Dx(); x++ {
			fn(row[x*4], row[x*4+1], row[x*4+2])
		}
	}
}

// pickOutput returns the configured output tensor, or the only one the model produced.
func pickOutput(outMap ml.Tensors, name string) (*tensor.Dense, error) {
	if name != "" {
		out, ok := outMap[name]
		if !ok {
			return nil, errors.Errorf("no output tensor named %q among %d outputs", name, len(outMap))
		}
		return out, nil
	}
	if len(outMap) != 1 {
		return nil, errors.Errorf("model returned %d output tensors, set output_tensor_name to choose one", len(outMap))
	}
	for _, out := range outMap {
		return out, nil
	}
	return nil, errors.New("unreachable")
}
