package detections

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/Tutortoise/plate-detection-service/models"

	"github.com/disintegration/imaging"
)

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Detector runs the plate model. It is safe for concurrent use; inference is
// bounded by the size of its session pool.
type Detector struct {
	cfg          Config
	pool         *SessionPool
	preprocessor *channelProcessor
}

// NewDetector verifies the weights file and builds the session pool. The ONNX
// Runtime environment must be initialized first.
func NewDetector(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}

	pool, err := NewSessionPool(cfg.PoolSize, cfg.AcquireTimeout, func() (*ModelSession, error) {
		return NewSession(cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model session pool: %w", err)
	}

	return &Detector{
		cfg:          cfg,
		pool:         pool,
		preprocessor: newChannelProcessor(cfg.InputSize, cfg.InputSize),
	}, nil
}

func (d *Detector) Config() Config {
	return d.cfg
}

func (d *Detector) Metrics() MetricsSnapshot {
	return d.pool.Metrics()
}

func (d *Detector) Destroy() {
	if d.pool != nil {
		d.pool.Destroy()
	}
}

// DecodeFile reads an image from disk and applies its EXIF orientation.
func DecodeFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// DetectFile decodes the image at path and runs Detect on it.
func (d *Detector) DetectFile(ctx context.Context, path string, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	decodeStart := time.Now()
	img, err := DecodeFile(path)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return nil, &ProcessingError{Message: "image decode", Cause: err}
	}

	return d.Detect(ctx, img, timings)
}

// Detect returns plate detections for img in descending confidence order.
// Box coordinates are in img's pixel space.
func (d *Detector) Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, &ProcessingError{Message: "acquire session", Cause: err}
	}

	var runErr error
	defer func() {
		if runErr != nil {
			d.pool.Discard(session)
			return
		}
		d.pool.Release(session)
	}()

	size := d.cfg.InputSize

	resizeStart := time.Now()
	resized := imaging.Resize(img, size, size, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	d.preprocessor.processChannels(resized, session.Input.GetData())
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if runErr = session.Session.Run(); runErr != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: runErr}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	bounds := img.Bounds()
	candidates, err := decodePredictions(
		session.Output.GetData(),
		d.cfg.outputChannels(),
		anchorCount(size),
		size,
		bounds.Dx(),
		bounds.Dy(),
		d.cfg.ConfThreshold,
	)
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}
	timings.Postprocess = time.Since(postStart)

	nmsStart := time.Now()
	detections := nonMaxSuppression(candidates, d.cfg.IoUThreshold)
	timings.Suppression = time.Since(nmsStart)

	return detections, nil
}

// decodePredictions reads a channel-major [channels x anchors] YOLOv8 output.
// Rows 0-3 hold center x, center y, width and height in model input pixels;
// the remaining rows hold one score per class.
func decodePredictions(predictions []float32, channels, anchors, inputSize, originalWidth, originalHeight int, threshold float32) ([]models.Detection, error) {
	if channels <= boxChannels {
		return nil, fmt.Errorf("output has %d channels, need more than %d", channels, boxChannels)
	}

	expectedSize := channels * anchors
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	detections := make([]models.Detection, 0, 16)
	for i := 0; i < anchors; i++ {
		var confidence float32
		for c := boxChannels; c < channels; c++ {
			if score := predictions[c*anchors+i]; score > confidence {
				confidence = score
			}
		}
		if confidence < threshold {
			continue
		}

		box := calculateBBox(
			predictions[i],
			predictions[anchors+i],
			predictions[2*anchors+i],
			predictions[3*anchors+i],
			float32(inputSize),
			float32(originalWidth),
			float32(originalHeight),
		)
		detections = append(detections, models.Detection{
			Box:        box,
			Confidence: confidence,
		})
	}

	return detections, nil
}

func calculateBBox(centerX, centerY, width, height, inputSize, origWidth, origHeight float32) models.BoundingBox {
	scaleX := origWidth / inputSize
	scaleY := origHeight / inputSize

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return models.BoundingBox{
		XMin: int(clamp(x1, 0, origWidth)),
		YMin: int(clamp(y1, 0, origHeight)),
		XMax: int(clamp(x2, 0, origWidth)),
		YMax: int(clamp(y2, 0, origHeight)),
	}
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
