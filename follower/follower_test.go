package follower

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/ml"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/mlmodel"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/rdk/vision/viscapture"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/viam-modules/person-follower/detection"
	"github.com/viam-modules/person-follower/pipeline"
	"github.com/viam-modules/person-follower/target"
)

const testCamera = "cam"

// fakeModel returns its outputs in order, one per Infer call, and records the inputs it got.
type fakeModel struct {
	it      int
	outputs []ml.Tensors
	inputs  []ml.Tensors
	err     error
}

func (fm *fakeModel) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	fm.inputs = append(fm.inputs, tensors)
	if fm.err != nil {
		return nil, fm.err
	}
	fm.it++
	return fm.outputs[fm.it-1], nil
}

// modelOutput lays normalized [x1 y1 x2 y2 score] candidates out as a 640x640 model emits them.
func modelOutput(boxes ...[5]float32) ml.Tensors {
	const size = 640
	n := len(boxes)
	backing := make([]float32, 5*n)
	for c, b := range boxes {
		backing[0*n+c] = (b[0] + b[2]) / 2 * size
		backing[1*n+c] = (b[1] + b[3]) / 2 * size
		backing[2*n+c] = (b[2] - b[0]) * size
		backing[3*n+c] = (b[3] - b[1]) * size
		backing[4*n+c] = b[4]
	}
	return ml.Tensors{"output0": tensor.New(tensor.WithShape(1, 5, n), tensor.WithBacking(backing))}
}

func newTestFollower(t *testing.T, cfg *Config, md mlmodel.MLMetadata, model inferencer) (*follower, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	f := newFollowerWithModel(resource.NewName(vision.API, "follower").AsNamed(), logging.NewTestLogger(t), clk)
	f.camName = testCamera
	f.model = model
	f.cancelContext, f.cancelFunc = context.WithCancel(context.Background())
	test.That(t, f.configure(cfg, md), test.ShouldBeNil)
	t.Cleanup(func() { f.Close(context.Background()) })
	return f, clk
}

func blackImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{CameraName: testCamera, MLModelName: "yolo"}
	deps, err := cfg.Validate("path")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{testCamera, "yolo"})

	_, err = (&Config{}).Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera_name")
	test.That(t, err.Error(), test.ShouldContainSubstring, "mlmodel_name")

	negative := -1.0
	tooHigh := 1.5
	for _, bad := range []*Config{
		{CameraName: testCamera, MLModelName: "yolo", MaxFrequency: -1},
		{CameraName: testCamera, MLModelName: "yolo", AnnounceInterval: &negative},
		{CameraName: testCamera, MLModelName: "yolo", InputSize: -1},
		{CameraName: testCamera, MLModelName: "yolo", ConfidenceThreshold: &tooHigh},
		{CameraName: testCamera, MLModelName: "yolo", TrackingStrategy: "kalman"},
	} {
		_, err := bad.Validate("path")
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestNewFollowerDependencies(t *testing.T) {
	ctx := context.Background()
	conf := resource.Config{
		Name:                "follower",
		API:                 vision.API,
		Model:               Model,
		ConvertedAttributes: &Config{CameraName: testCamera, MLModelName: "yolo"},
	}

	_, err := newFollower(ctx, resource.Dependencies{}, resource.Config{Name: "follower", API: vision.API, Model: Model},
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Could not assert proper config")

	_, err = newFollower(ctx, resource.Dependencies{}, conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unable to get camera")

	deps := resource.Dependencies{camera.Named(testCamera): inject.NewCamera(testCamera)}
	_, err = newFollower(ctx, deps, conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unable to get ML model yolo")
}

func TestConfigure(t *testing.T) {
	f, _ := newTestFollower(t, &Config{}, mlmodel.MLMetadata{}, &fakeModel{})
	test.That(t, f.inputName, test.ShouldEqual, DefaultInputTensorName)
	test.That(t, f.inputType, test.ShouldEqual, "float32")
	test.That(t, f.inputSize, test.ShouldEqual, detection.DefaultInputSize)
	test.That(t, f.frequency, test.ShouldEqual, DefaultMaxFrequency)

	md := mlmodel.MLMetadata{Inputs: []mlmodel.TensorInfo{{Name: "images", DataType: "uint8", Shape: []int{1, 320, 320, 3}}}}
	f, _ = newTestFollower(t, &Config{}, md, &fakeModel{})
	test.That(t, f.inputName, test.ShouldEqual, "images")
	test.That(t, f.inputType, test.ShouldEqual, "uint8")
	test.That(t, f.inputSize, test.ShouldEqual, 320)
	test.That(t, f.pipeline.Config().InputSize, test.ShouldEqual, 320)

	// configured values win over the metadata
	f, _ = newTestFollower(t, &Config{InputTensorName: "in", InputSize: 416, MaxFrequency: 2}, md, &fakeModel{})
	test.That(t, f.inputName, test.ShouldEqual, "in")
	test.That(t, f.inputSize, test.ShouldEqual, 416)
	test.That(t, f.frequency, test.ShouldEqual, 2.0)
}

func TestProcessFrame(t *testing.T) {
	fm := &fakeModel{outputs: []ml.Tensors{
		modelOutput([5]float32{0.1, 0.2, 0.3, 0.8, 0.9}, [5]float32{0.6, 0.2, 0.8, 0.8, 0.7}),
	}}
	f, _ := newTestFollower(t, &Config{}, mlmodel.MLMetadata{}, fm)
	ctx := context.Background()

	// nothing published yet
	classes, err := f.ClassificationsFromCamera(ctx, testCamera, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, classes[0].Label(), test.ShouldEqual, string(target.NoPerson))

	test.That(t, f.processFrame(ctx, blackImage(64, 48)), test.ShouldBeNil)
	test.That(t, len(fm.inputs), test.ShouldEqual, 1)
	test.That(t, fm.inputs[0][DefaultInputTensorName].Shape(), test.ShouldResemble, tensor.Shape{1, 640, 640, 3})

	dets, err := f.DetectionsFromCamera(ctx, testCamera, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(dets), test.ShouldEqual, 2)
	test.That(t, dets[0].Label(), test.ShouldEqual, "person_1_target")
	test.That(t, dets[0].Score(), test.ShouldAlmostEqual, 0.9, 1e-6)
	test.That(t, *dets[0].BoundingBox(), test.ShouldResemble, image.Rect(6, 9, 19, 38))
	test.That(t, dets[1].Label(), test.ShouldEqual, "person_2")

	_, err = f.DetectionsFromCamera(ctx, "other", nil)
	test.That(t, err, test.ShouldNotBeNil)

	classes, err = f.Classifications(ctx, nil, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(classes), test.ShouldEqual, 1)
	test.That(t, classes[0].Label(), test.ShouldEqual, string(target.MoveLeft))
	test.That(t, classes[0].Score(), test.ShouldEqual, 1.0)

	capture, err := f.CaptureAllFromCamera(ctx, testCamera, viscapture.CaptureOptions{
		ReturnImage: true, ReturnDetections: true, ReturnClassifications: true,
	}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, capture.Image, test.ShouldNotBeNil)
	test.That(t, len(capture.Detections), test.ShouldEqual, 2)
	test.That(t, capture.Classifications[0].Label(), test.ShouldEqual, string(target.MoveLeft))
}

func TestProcessFrameErrors(t *testing.T) {
	fm := &fakeModel{err: errors.New("model offline")}
	f, _ := newTestFollower(t, &Config{}, mlmodel.MLMetadata{}, fm)
	err := f.processFrame(context.Background(), blackImage(8, 8))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model offline")

	// an empty frame never reaches the model
	err = f.processFrame(context.Background(), image.NewRGBA(image.Rectangle{}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(fm.inputs), test.ShouldEqual, 1)
}

func TestMalformedOutputPublishesNoPerson(t *testing.T) {
	ctx := context.Background()
	fm := &fakeModel{outputs: []ml.Tensors{
		modelOutput([5]float32{0.1, 0.2, 0.3, 0.8, 0.9}),
		{"output0": tensor.New(tensor.WithShape(1, 3, 1), tensor.WithBacking([]float32{0, 0, 0}))},
	}}
	f, _ := newTestFollower(t, &Config{}, mlmodel.MLMetadata{}, fm)

	test.That(t, f.processFrame(ctx, blackImage(64, 48)), test.ShouldBeNil)
	classes, err := f.Classifications(ctx, nil, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, classes[0].Label(), test.ShouldEqual, string(target.MoveLeft))

	err = f.processFrame(ctx, blackImage(64, 48))
	test.That(t, errors.Is(err, detection.ErrInvalidInput), test.ShouldBeTrue)
	classes, err = f.Classifications(ctx, nil, 1, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, classes[0].Label(), test.ShouldEqual, string(target.NoPerson))
	dets, err := f.Detections(ctx, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(dets), test.ShouldEqual, 0)
	res, _ := f.latest()
	test.That(t, res.TargetID, test.ShouldEqual, target.NoTarget)
	test.That(t, f.pipeline.Benchmark().Skipped, test.ShouldEqual, 1)
}

// failingStream errors on every read and reports each read on calls.
type failingStream struct {
	calls chan struct{}
}

func (fs *failingStream) Next(ctx context.Context) (image.Image, func(), error) {
	fs.calls <- struct{}{}
	return nil, func() {}, errors.New("camera unplugged")
}

func (fs *failingStream) Close(ctx context.Context) error {
	return nil
}

func TestRunWaitsAfterFailedRead(t *testing.T) {
	f, clk := newTestFollower(t, &Config{MaxFrequency: 10}, mlmodel.MLMetadata{}, &fakeModel{})
	stream := &failingStream{calls: make(chan struct{}, 100)}

	done := make(chan struct{})
	go func() {
		f.run(stream, f.cancelContext)
		close(done)
	}()

	<-stream.calls
	select {
	case <-stream.calls:
		t.Fatal("stream read again before the frame period passed")
	case <-time.After(50 * time.Millisecond):
	}

	timeout := time.After(5 * time.Second)
	for second := false; !second; {
		clk.Add(100 * time.Millisecond)
		select {
		case <-stream.calls:
			second = true
		case <-time.After(10 * time.Millisecond):
		case <-timeout:
			t.Fatal("stream was never read again")
		}
	}

	f.cancelFunc()
	<-done
}

func TestDoCommand(t *testing.T) {
	fm := &fakeModel{outputs: []ml.Tensors{
		modelOutput([5]float32{0.1, 0.2, 0.3, 0.8, 0.9}, [5]float32{0.6, 0.2, 0.8, 0.8, 0.7}),
	}}
	f, clk := newTestFollower(t, &Config{}, mlmodel.MLMetadata{}, fm)
	ctx := context.Background()
	test.That(t, f.processFrame(ctx, blackImage(64, 48)), test.ShouldBeNil)

	out, err := f.DoCommand(ctx, map[string]interface{}{"target": true, "logs": true, "benchmark": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["target"], test.ShouldResemble, map[string]interface{}{"id": 1, "command": string(target.MoveLeft)})
	logs := out["logs"].([]trackedObject)
	test.That(t, len(logs), test.ShouldEqual, 2)
	test.That(t, logs[0].Label, test.ShouldEqual, "person")
	test.That(t, logs[0].ID, test.ShouldEqual, 1)
	test.That(t, logs[1].ID, test.ShouldEqual, 2)
	test.That(t, logs[0].Time, test.ShouldEqual, GetTimestamp(clk.Now()))
	test.That(t, out["benchmark"].(pipeline.Benchmark).NumberOfRuns, test.ShouldEqual, 1)

	out, err = f.DoCommand(ctx, map[string]interface{}{"announce": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["announce"], test.ShouldResemble, map[string]interface{}{"speak": true, "text": string(target.MoveLeft)})
	out, err = f.DoCommand(ctx, map[string]interface{}{"announce": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["announce"], test.ShouldResemble, map[string]interface{}{"speak": false, "text": ""})

	out, err = f.DoCommand(ctx, map[string]interface{}{"reset": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out["reset"], test.ShouldEqual, true)
	out, err = f.DoCommand(ctx, map[string]interface{}{"logs": true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(out["logs"].([]trackedObject)), test.ShouldEqual, 0)

	_, err = f.DoCommand(ctx, map[string]interface{}{"dance": true})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAnnouncer(t *testing.T) {
	clk := clock.NewMock()
	a := newAnnouncer(clk, 2*time.Second)

	text, ok := a.announce(target.MoveLeft)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, text, test.ShouldEqual, "Move Left")

	// too soon
	_, ok = a.announce(target.MoveRight)
	test.That(t, ok, test.ShouldBeFalse)

	clk.Add(2 * time.Second)
	text, ok = a.announce(target.MoveRight)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, text, test.ShouldEqual, "Move Right")

	// repeated command
	clk.Add(3 * time.Second)
	_, ok = a.announce(target.MoveRight)
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = a.announce(target.NoPerson)
	test.That(t, ok, test.ShouldBeFalse)

	text, ok = a.announce(target.StayCentered)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, text, test.ShouldEqual, "Stay Centered")
}

func TestFrameToTensor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 255, 255
	}

	in, err := frameToTensor(img, 4, "float32")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Shape(), test.ShouldResemble, tensor.Shape{1, 4, 4, 3})
	data := in.Data().([]float32)
	test.That(t, len(data), test.ShouldEqual, 48)
	test.That(t, data[0], test.ShouldEqual, float32(1))
	test.That(t, data[1], test.ShouldEqual, float32(0))
	test.That(t, data[47], test.ShouldEqual, float32(0))

	in, err = frameToTensor(img, 4, "uint8")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Shape(), test.ShouldResemble, tensor.Shape{1, 4, 4, 3})
	raw := in.Data().([]uint8)
	test.That(t, raw[45], test.ShouldEqual, uint8(255))
	test.That(t, raw[46], test.ShouldEqual, uint8(0))

	_, err = frameToTensor(image.NewRGBA(image.Rectangle{}), 4, "float32")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPickOutput(t *testing.T) {
	one := modelOutput([5]float32{0.1, 0.1, 0.2, 0.2, 0.9})
	out, err := pickOutput(one, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, one["output0"])

	_, err = pickOutput(one, "boxes")
	test.That(t, err, test.ShouldNotBeNil)

	two := ml.Tensors{"a": one["output0"], "b": one["output0"]}
	_, err = pickOutput(two, "")
	test.That(t, err, test.ShouldNotBeNil)
	out, err = pickOutput(two, "b")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldNotBeNil)
}

func TestDrawOverlay(t *testing.T) {
	res := target.Result{
		Detections: []target.Annotated{
			{Tracked: detection.Tracked{Detection: detection.Detection{
				Box: detection.Box{X1: 0.25, Y1: 0.25, X2: 0.75, Y2: 0.75}, Score: 0.9, Label: "person",
			}, ID: 1}, IsTarget: true},
			{Tracked: detection.Tracked{Detection: detection.Detection{
				Box: detection.Box{X1: 0.8, Y1: 0.1, X2: 0.95, Y2: 0.3}, Score: 0.7, Label: "person",
			}, ID: 2}},
		},
		Command:  target.StayCentered,
		TargetID: 1,
	}
	src := blackImage(200, 200)
	out := drawOverlay(src, res, 9.5)

	yellow := color.RGBA{255, 255, 0, 255}
	green := color.RGBA{0, 255, 0, 255}
	test.That(t, color.RGBAModel.Convert(out.At(50, 100)), test.ShouldResemble, yellow)
	test.That(t, color.RGBAModel.Convert(out.At(160, 40)), test.ShouldResemble, green)
	// inside the target box
	test.That(t, color.RGBAModel.Convert(out.At(100, 120)), test.ShouldResemble, color.RGBA{0, 0, 0, 255})
	// the source is left untouched
	test.That(t, src.RGBAAt(50, 100), test.ShouldResemble, color.RGBA{0, 0, 0, 255})
}

func TestTrackedObjects(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	test.That(t, GetTimestamp(now), test.ShouldEqual, "20240309_140507")

	tracked := []detection.Tracked{
		{Detection: detection.Detection{Label: "person"}, ID: 4, New: false},
		{Detection: detection.Detection{Label: "person"}, ID: 7, New: true},
		{Detection: detection.Detection{Label: "hard_hat"}, ID: 2, New: true},
	}
	fresh := freshObjects(tracked, now)
	test.That(t, fresh, test.ShouldResemble, []trackedObject{
		{
			FullLabel: "person_7_20240309_140507",
			Label:     "person",
			ID:        7,
			Time:      "20240309_140507",
		},
		{
			FullLabel: "hard_hat_2_20240309_140507",
			Label:     "hard_hat",
			ID:        2,
			Time:      "20240309_140507",
		},
	})

	test.That(t, detectionLabel(tracked[0], false), test.ShouldEqual, "person_4")
	test.That(t, detectionLabel(tracked[1], true), test.ShouldEqual, "person_7_target")
	test.That(t, detectionLabel(tracked[2], true), test.ShouldEqual, "hard_hat_2_target")
}

func TestHardHatLabelIsLogged(t *testing.T) {
	fm := &fakeModel{outputs: []ml.Tensors{
		modelOutput([5]float32{0.1, 0.2, 0.3, 0.8, 0.9}),
	}}
	f, _ := newTestFollower(t, &Config{Label: "hard_hat"}, mlmodel.MLMetadata{}, fm)
	ctx := context.Background()
	test.That(t, f.processFrame(ctx, blackImage(64, 48)), test.ShouldBeNil)

	out, err := f.DoCommand(ctx, map[string]interface{}{"logs": true})
	test.That(t, err, test.ShouldBeNil)
	logs := out["logs"].([]trackedObject)
	test.That(t, len(logs), test.ShouldEqual, 1)
	test.That(t, logs[0].Label, test.ShouldEqual, "hard_hat")
	test.That(t, logs[0].ID, test.ShouldEqual, 1)

	dets, err := f.Detections(ctx, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets[0].Label(), test.ShouldEqual, "hard_hat_1_target")
}
