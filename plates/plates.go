// Package plates turns raw plate detections into the two images the service
// returns: the source image with the plate outlined, and the plate itself.
package plates

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/plate-detection-service/logger"
	"github.com/Tutortoise/plate-detection-service/models"
)

// Detector finds plates in the image stored at path.
type Detector interface {
	DetectFile(ctx context.Context, path string, timings *models.ProcessingTimings) ([]models.Detection, error)
}

// DetectorFunc returns the shared detector. It is expected to memoize.
type DetectorFunc func() (Detector, error)

// DecodeFunc reads an image from disk.
type DecodeFunc func(path string) (image.Image, error)

type Result struct {
	Annotated  *image.NRGBA
	Cropped    *image.NRGBA
	Box        models.BoundingBox
	Confidence float32
	// Detections is the number of boxes the detector returned; only the
	// first one is rendered.
	Detections int
}

type Service struct {
	detector DetectorFunc
	decode   DecodeFunc
	log      *logger.Logger
}

func NewService(detector DetectorFunc, decode DecodeFunc, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Service{detector: detector, decode: decode, log: log}
}

// DetectAndCrop runs the detector on the image at path, outlines the first
// returned box in green and crops that region. On failure the result is nil
// and the error is a *Error describing the kind of failure.
func (s *Service) DetectAndCrop(ctx context.Context, path string, timings *models.ProcessingTimings) (result *Result, err error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = newError(KindProcessingFailure, fmt.Errorf("panic during detection: %v", r))
		}
		if err != nil {
			s.logFailure(timings.RequestID, err)
		}
	}()

	detector, err := s.detector()
	if err != nil {
		return nil, newError(KindLoadFailure, err)
	}

	detections, err := detector.DetectFile(ctx, path, timings)
	if err != nil {
		return nil, newError(KindProcessingFailure, err)
	}
	if len(detections) == 0 {
		return nil, newError(KindNoDetection, ErrNoPlate)
	}

	// First box wins; the detector's ordering is taken as is.
	first := detections[0]
	box := first.Box
	if box.Width() <= 0 || box.Height() <= 0 {
		return nil, newError(KindProcessingFailure, fmt.Errorf("empty plate region %+v", box))
	}

	renderStart := time.Now()
	src, err := s.decode(path)
	if err != nil {
		return nil, newError(KindProcessingFailure, err)
	}

	annotated := ToRGB(src)
	drawOutline(annotated, boxRect(box))

	cropped, ok := cropBox(annotated, box)
	if !ok {
		return nil, newError(KindProcessingFailure, fmt.Errorf("plate region %+v lies outside %dx%d image",
			box, annotated.Bounds().Dx(), annotated.Bounds().Dy()))
	}
	timings.Render = time.Since(renderStart)

	s.log.Debug("Plate detected",
		"request_id", timings.RequestID,
		"box", box,
		"confidence", first.Confidence,
		"detections", len(detections),
	)

	return &Result{
		Annotated:  annotated,
		Cropped:    cropped,
		Box:        box,
		Confidence: first.Confidence,
		Detections: len(detections),
	}, nil
}

func (s *Service) logFailure(requestID string, err error) {
	switch KindOf(err) {
	case KindNoDetection:
		s.log.Warn("No number plate detected", "request_id", requestID)
	default:
		s.log.Error("Plate detection failed", "request_id", requestID, "kind", KindOf(err).String(), "error", err)
	}
}
