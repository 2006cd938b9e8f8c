// Package follower implements a person follower as a Viam vision service. It runs a
// detection model on every camera frame, tracks the people it finds and tells a robot
// which way to turn to keep one of them centered.
package follower

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/gostream"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/ml"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/mlmodel"
	"go.viam.com/rdk/services/vision"
	vis "go.viam.com/rdk/vision"
	"go.viam.com/rdk/vision/classification"
	objdet "go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/rdk/vision/viscapture"
	viamutils "go.viam.com/utils"

	"github.com/viam-modules/person-follower/detection"
	"github.com/viam-modules/person-follower/pipeline"
	"github.com/viam-modules/person-follower/target"
)

// ModelName is the name of the model
const ModelName = "person-follower"

var (
	// Model is the colon-delimited-triplet of the person follower
	Model            = resource.NewModel("viam", "vision", ModelName)
	errUnimplemented = errors.New("unimplemented")
)

// inferencer is the part of an ML model service the follower needs.
type inferencer interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
}

type allObjects struct {
	mutex   sync.RWMutex
	objects []trackedObject
}

type currentResult struct {
	mutex  sync.RWMutex
	result target.Result
	bounds image.Rectangle
}

func init() {
	resource.RegisterService(vision.API, Model, resource.Registration[vision.Service, *Config]{
		Constructor: newFollower,
	})
}

type follower struct {
	resource.Named
	resource.AlwaysRebuild
	logger        logging.Logger
	cancelFunc    context.CancelFunc
	cancelContext context.Context

	activeBackgroundWorkers sync.WaitGroup

	cam        camera.Camera
	camName    string
	model      inferencer
	inputName  string
	inputType  string
	outputName string
	inputSize  int
	frequency  float64
	annotate   bool
	clk        clock.Clock

	pipeline   *pipeline.Pipeline
	announcer  *announcer
	current    currentResult
	currImg    atomic.Pointer[image.Image]
	properties vision.Properties

	allFreshObjects allObjects
}

func newFollower(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (vision.Service, error) {
	followerConfig, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not assert proper config for %s", ModelName)
	}
	cam, err := camera.FromDependencies(deps, followerConfig.CameraName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get camera %v for person follower", followerConfig.CameraName)
	}
	model, err := resource.FromDependencies[mlmodel.Service](deps, mlmodel.Named(followerConfig.MLModelName))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get ML model %v for person follower", followerConfig.MLModelName)
	}

	f := newFollowerWithModel(conf.ResourceName().AsNamed(), logger, clock.New())
	f.cam = cam
	f.camName = followerConfig.CameraName
	f.model = model

	md, err := model.Metadata(ctx)
	if err != nil {
		logger.Warnw("unable to read model metadata, using configured input", "error", err)
	}
	if err := f.configure(followerConfig, md); err != nil {
		return nil, err
	}

	cancelableCtx, cancel := context.WithCancel(context.Background())
	f.cancelFunc = cancel
	f.cancelContext = cancelableCtx

	stream, err := f.cam.Stream(f.cancelContext, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	f.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		f.run(stream, f.cancelContext)
	}, func() {
		f.cancelFunc()
		stream.Close(f.cancelContext)
		f.activeBackgroundWorkers.Done()
	})

	return f, nil
}

func newFollowerWithModel(named resource.Named, logger logging.Logger, clk clock.Clock) *follower {
	return &follower{
		Named:  named,
		logger: logger,
		clk:    clk,
		properties: vision.Properties{
			ClassificationSupported: true,
			DetectionSupported:      true,
			ObjectPCDsSupported:     false,
		},
		allFreshObjects: allObjects{
			objects: []trackedObject{},
		},
		current: currentResult{
			result: target.Result{Detections: []target.Annotated{}, Command: target.NoPerson, TargetID: target.NoTarget},
		},
	}
}

// configure applies the attributes, filling the input tensor details from the model
// metadata when they are not configured.
func (f *follower) configure(cfg *Config, md mlmodel.MLMetadata) error {
	f.inputName = cfg.InputTensorName
	f.inputType = "float32"
	f.inputSize = cfg.InputSize
	if len(md.Inputs) > 0 {
		in := md.Inputs[0]
		if f.inputName == "" {
			f.inputName = in.Name
		}
		if in.DataType != "" {
			f.inputType = in.DataType
		}
		// [1][S][S][3]
		if f.inputSize == 0 && len(in.Shape) == 4 && in.Shape[1] > 0 {
			f.inputSize = in.Shape[1]
		}
	}
	if f.inputName == "" {
		f.inputName = DefaultInputTensorName
	}
	if f.inputSize == 0 {
		f.inputSize = pipeline.DefaultConfig().InputSize
	}
	f.outputName = cfg.OutputTensorName

	f.frequency = cfg.MaxFrequency
	if f.frequency == 0 {
		f.frequency = DefaultMaxFrequency
	}
	interval := DefaultAnnounceInterval
	if cfg.AnnounceInterval != nil {
		interval = *cfg.AnnounceInterval
	}
	f.announcer = newAnnouncer(f.clk, time.Duration(interval*float64(time.Second)))
	f.annotate = cfg.AnnotateImage

	pc := cfg.pipelineConfig()
	pc.InputSize = f.inputSize
	p, err := pipeline.New(pc, f.logger, f.clk)
	if err != nil {
		return errors.Wrap(err, "unable to build person follower pipeline")
	}
	f.pipeline = p
	return nil
}

// run is a (cancelable) infinite loop that takes new frames from the camera and
// feeds them through the model and the follower pipeline.
func (f *follower) run(stream gostream.VideoStream, cancelableCtx context.Context) {
	period := time.Duration((1 / f.frequency) * float64(time.Second))
	for {
		select {
		case <-cancelableCtx.Done():
			return
		default:
			start := f.clk.Now()
			f.step(cancelableCtx, stream)

			// failed reads wait out the period too
			waitFor := period - f.clk.Since(start)
			if waitFor > time.Microsecond {
				select {
				case <-cancelableCtx.Done():
					return
				case <-f.clk.After(waitFor):
				}
			}
		}
	}
}

// step takes one frame from the stream and processes it, logging any failure.
func (f *follower) step(ctx context.Context, stream gostream.VideoStream) {
	img, _, err := stream.Next(ctx)
	if err != nil {
		f.logger.Errorf("can't get image. got err: %s", err)
		return
	}
	if img == nil {
		f.logger.Errorf("got nil image")
		return
	}
	if err := f.processFrame(ctx, img); err != nil {
		f.logger.Errorf("skipping frame: %s", err)
	}
}

// processFrame runs one frame through the model and the pipeline and publishes the result.
// A frame whose model output cannot be read publishes "No person detected".
func (f *follower) processFrame(ctx context.Context, img image.Image) error {
	in, err := frameToTensor(img, f.inputSize, f.inputType)
	if err != nil {
		return err
	}
	outMap, err := f.model.Infer(ctx, ml.Tensors{f.inputName: in})
	if err != nil {
		return errors.Wrap(err, "inference failed")
	}
	out, err := pickOutput(outMap, f.outputName)
	if err != nil {
		return err
	}
	res, err := f.pipeline.Process(out)
	if err != nil {
		if errors.Is(err, detection.ErrInvalidInput) {
			f.publish(res, img)
		}
		return err
	}

	tracked := make([]detection.Tracked, 0, len(res.Detections))
	for _, d := range res.Detections {
		tracked = append(tracked, d.Tracked)
	}
	if fresh := freshObjects(tracked, f.clk.Now()); len(fresh) > 0 {
		f.allFreshObjects.mutex.Lock()
		f.allFreshObjects.objects = append(f.allFreshObjects.objects, fresh...)
		f.allFreshObjects.mutex.Unlock()
	}
	f.publish(res, img)
	return nil
}

func (f *follower) publish(res target.Result, img image.Image) {
	f.current.mutex.Lock()
	f.current.result = res
	f.current.bounds = img.Bounds()
	f.current.mutex.Unlock()
	f.currImg.Store(&img)
}

func (f *follower) latest() (target.Result, image.Rectangle) {
	f.current.mutex.RLock()
	defer f.current.mutex.RUnlock()
	return f.current.result, f.current.bounds
}

// currentDetections converts the latest result to pixel coordinates of the last frame.
func (f *follower) currentDetections() []objdet.Detection {
	res, bounds := f.latest()
	dets := make([]objdet.Detection, 0, len(res.Detections))
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	for _, d := range res.Detections {
		rect := image.Rect(
			bounds.Min.X+int(d.Box.X1*w), bounds.Min.Y+int(d.Box.Y1*h),
			bounds.Min.X+int(d.Box.X2*w), bounds.Min.Y+int(d.Box.Y2*h),
		)
		dets = append(dets, objdet.NewDetection(rect, d.Score, detectionLabel(d.Tracked, d.IsTarget)))
	}
	return dets
}

func (f *follower) currentClassifications(n int) classification.Classifications {
	if n == 0 {
		return classification.Classifications{}
	}
	res, _ := f.latest()
	return classification.Classifications{classification.NewClassification(1, string(res.Command))}
}

func (f *follower) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]objdet.Detection, error) {
	if cameraName != f.camName {
		return nil, errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, f.camName)
	}
	select {
	case <-f.cancelContext.Done():
		return nil, f.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.currentDetections(), nil
	}
}

func (f *follower) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objdet.Detection, error) {
	select {
	case <-f.cancelContext.Done():
		return nil, f.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.currentDetections(), nil
	}
}

func (f *follower) ClassificationsFromCamera(
	ctx context.Context,
	cameraName string,
	n int,
	extra map[string]interface{},
) (classification.Classifications, error) {
	if cameraName != f.camName {
		return nil, errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, f.camName)
	}
	return f.currentClassifications(n), nil
}

func (f *follower) Classifications(ctx context.Context, img image.Image,
	n int, extra map[string]interface{},
) (classification.Classifications, error) {
	return f.currentClassifications(n), nil
}

func (f *follower) GetProperties(ctx context.Context, extra map[string]interface{}) (*vision.Properties, error) {
	return &f.properties, nil
}

func (f *follower) GetObjectPointClouds(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]*vis.Object, error) {
	return nil, errUnimplemented
}

func (f *follower) CaptureAllFromCamera(
	ctx context.Context,
	cameraName string,
	opt viscapture.CaptureOptions,
	extra map[string]interface{},
) (viscapture.VisCapture, error) {
	var detections []objdet.Detection
	var classifications classification.Classifications
	var img image.Image
	if cameraName != f.camName {
		return viscapture.VisCapture{}, errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, f.camName)
	}
	select {
	case <-f.cancelContext.Done():
		return viscapture.VisCapture{}, f.cancelContext.Err()
	case <-ctx.Done():
		return viscapture.VisCapture{}, ctx.Err()
	default:
		if opt.ReturnImage {
			if stored := f.currImg.Load(); stored != nil {
				img = *stored
				if f.annotate {
					res, _ := f.latest()
					img = drawOverlay(img, res, f.pipeline.Benchmark().FPS)
				}
			}
		}
		if opt.ReturnDetections {
			detections = f.currentDetections()
		}
		if opt.ReturnClassifications {
			classifications = f.currentClassifications(1)
		}
	}
	return viscapture.VisCapture{Image: img, Detections: detections, Classifications: classifications}, nil
}

func (f *follower) Close(ctx context.Context) error {
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	f.activeBackgroundWorkers.Wait()
	return nil
}

// DoCommand reports timing statistics and identity logs, and lets a client reset
// tracking or ask what should be announced for the current command.
func (f *follower) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if cmd["benchmark"] != nil {
		out["benchmark"] = f.pipeline.Benchmark()
	}
	if cmd["logs"] != nil {
		f.allFreshObjects.mutex.RLock()
		out["logs"] = append([]trackedObject{}, f.allFreshObjects.objects...)
		f.allFreshObjects.mutex.RUnlock()
	}
	if cmd["reset"] != nil {
		f.pipeline.Reset()
		f.allFreshObjects.mutex.Lock()
		f.allFreshObjects.objects = []trackedObject{}
		f.allFreshObjects.mutex.Unlock()
		out["reset"] = true
	}
	if cmd["target"] != nil {
		res, _ := f.latest()
		out["target"] = map[string]interface{}{"id": res.TargetID, "command": string(res.Command)}
	}
	if cmd["announce"] != nil {
		res, _ := f.latest()
		text, ok := f.announcer.announce(res.Command)
		out["announce"] = map[string]interface{}{"speak": ok, "text": text}
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no known command in %v", keys(cmd))
	}
	return out, nil
}

func keys(cmd map[string]interface{}) []string {
	out := make([]string, 0, len(cmd))
	for k := range cmd {
		out = append(out, k)
	}
	return out
}
