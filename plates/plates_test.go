package plates

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Tutortoise/plate-detection-service/detections"
	"github.com/Tutortoise/plate-detection-service/logger"
	"github.com/Tutortoise/plate-detection-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	detections []models.Detection
	err        error
	panicMsg   string
	calls      int
}

func (f *fakeDetector) DetectFile(_ context.Context, _ string, _ *models.ProcessingTimings) ([]models.Detection, error) {
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Detection(nil), f.detections...), nil
}

func newTestService(det Detector) *Service {
	return NewService(func() (Detector, error) { return det, nil }, detections.DecodeFile, logger.NewNopLogger())
}

// patternImage never contains pure green: G stays below 241.
func patternImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x % 251),
				G: uint8(y % 241),
				B: uint8((x + y) % 239),
				A: 255,
			})
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vehicle.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func box(x1, y1, x2, y2 int) models.BoundingBox {
	return models.BoundingBox{XMin: x1, YMin: y1, XMax: x2, YMax: y2}
}

func onOutline(x, y int, b models.BoundingBox) bool {
	if x < b.XMin || x >= b.XMax || y < b.YMin || y >= b.YMax {
		return false
	}
	return x < b.XMin+2 || x >= b.XMax-2 || y < b.YMin+2 || y >= b.YMax-2
}

func TestDetectAndCrop_EndToEnd(t *testing.T) {
	src := patternImage(640, 480)
	path := writePNG(t, src)
	plate := box(100, 200, 300, 250)

	svc := newTestService(&fakeDetector{detections: []models.Detection{{Box: plate, Confidence: 0.87}}})
	result, err := svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 640, result.Annotated.Bounds().Dx())
	assert.Equal(t, 480, result.Annotated.Bounds().Dy())
	assert.Equal(t, 200, result.Cropped.Bounds().Dx())
	assert.Equal(t, 50, result.Cropped.Bounds().Dy())
	assert.Equal(t, plate, result.Box)
	assert.InDelta(t, 0.87, result.Confidence, 1e-6)
	assert.Equal(t, 1, result.Detections)
}

func TestDetectAndCrop_OnlyOutlineChanges(t *testing.T) {
	src := patternImage(320, 240)
	path := writePNG(t, src)
	plate := box(40, 60, 200, 110)

	svc := newTestService(&fakeDetector{detections: []models.Detection{{Box: plate, Confidence: 0.5}}})
	result, err := svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)

	green := color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			got := result.Annotated.NRGBAAt(x, y)
			if onOutline(x, y, plate) {
				if got != green {
					t.Fatalf("pixel (%d,%d) on outline = %v, want green", x, y, got)
				}
				continue
			}
			if want := src.NRGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) off outline changed: got %v, want %v", x, y, got, want)
			}
		}
	}

	// The crop is taken after drawing, so its border is the outline.
	assert.Equal(t, green, result.Cropped.NRGBAAt(0, 0))
	assert.Equal(t, green, result.Cropped.NRGBAAt(1, 1))
	assert.Equal(t, src.NRGBAAt(42, 62), result.Cropped.NRGBAAt(2, 2))
	assert.Equal(t, green, result.Cropped.NRGBAAt(plate.Width()-1, plate.Height()-1))
}

func TestDetectAndCrop_DoesNotTouchSourceFile(t *testing.T) {
	src := patternImage(64, 64)
	path := writePNG(t, src)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	svc := newTestService(&fakeDetector{detections: []models.Detection{{Box: box(8, 8, 40, 24)}}})
	_, err = svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDetectAndCrop_NoDetection(t *testing.T) {
	path := writePNG(t, patternImage(64, 48))

	result, err := newTestService(&fakeDetector{}).DetectAndCrop(context.Background(), path, nil)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, KindNoDetection, KindOf(err))
	assert.ErrorIs(t, err, ErrNoPlate)
}

func TestDetectAndCrop_FirstBoxWins(t *testing.T) {
	path := writePNG(t, patternImage(200, 100))
	first := box(10, 10, 60, 30)
	second := box(100, 40, 180, 80)

	svc := newTestService(&fakeDetector{detections: []models.Detection{
		{Box: first, Confidence: 0.3},
		{Box: second, Confidence: 0.99},
	}})
	result, err := svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, first, result.Box)
	assert.InDelta(t, 0.3, result.Confidence, 1e-6)
	assert.Equal(t, 2, result.Detections)
	assert.Equal(t, 50, result.Cropped.Bounds().Dx())
	assert.Equal(t, 20, result.Cropped.Bounds().Dy())
}

func TestDetectAndCrop_Idempotent(t *testing.T) {
	path := writePNG(t, patternImage(160, 120))
	det := &fakeDetector{detections: []models.Detection{{Box: box(20, 30, 120, 70), Confidence: 0.6}}}
	svc := newTestService(det)

	r1, err := svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)
	r2, err := svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, r1.Annotated.Pix, r2.Annotated.Pix)
	assert.Equal(t, r1.Cropped.Pix, r2.Cropped.Pix)
	assert.Equal(t, 2, det.calls)
}

func TestDetectAndCrop_BoxTouchingEdges(t *testing.T) {
	path := writePNG(t, patternImage(640, 480))

	tests := []struct {
		name          string
		box           models.BoundingBox
		width, height int
	}{
		{"left and bottom edge", box(0, 380, 150, 480), 150, 100},
		{"whole image", box(0, 0, 640, 480), 640, 480},
		{"past right and bottom", box(600, 400, 700, 520), 40, 80},
		{"negative origin", box(-20, -10, 30, 40), 30, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&fakeDetector{detections: []models.Detection{{Box: tt.box}}})
			result, err := svc.DetectAndCrop(context.Background(), path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.width, result.Cropped.Bounds().Dx())
			assert.Equal(t, tt.height, result.Cropped.Bounds().Dy())
			assert.Equal(t, 640, result.Annotated.Bounds().Dx())
			assert.Equal(t, 480, result.Annotated.Bounds().Dy())
		})
	}
}

func TestDetectAndCrop_ProcessingFailures(t *testing.T) {
	goodPath := writePNG(t, patternImage(100, 100))

	garbagePath := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(garbagePath, []byte("not an image"), 0644))

	tests := []struct {
		name string
		path string
		det  *fakeDetector
	}{
		{"detector error", goodPath, &fakeDetector{err: errors.New("inference failed")}},
		{"detector panic", goodPath, &fakeDetector{panicMsg: "index out of range"}},
		{"undecodable image", garbagePath, &fakeDetector{detections: []models.Detection{{Box: box(0, 0, 10, 10)}}}},
		{"missing file", filepath.Join(t.TempDir(), "nope.png"), &fakeDetector{detections: []models.Detection{{Box: box(0, 0, 10, 10)}}}},
		{"box outside image", goodPath, &fakeDetector{detections: []models.Detection{{Box: box(150, 150, 200, 200)}}}},
		{"inverted box", goodPath, &fakeDetector{detections: []models.Detection{{Box: box(50, 50, 20, 80)}}}},
		{"zero height box", goodPath, &fakeDetector{detections: []models.Detection{{Box: box(10, 40, 60, 40)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestService(tt.det).DetectAndCrop(context.Background(), tt.path, nil)
			assert.Nil(t, result)
			require.Error(t, err)
			assert.Equal(t, KindProcessingFailure, KindOf(err))
		})
	}
}

func TestDetectAndCrop_LoadFailure(t *testing.T) {
	loadErr := errors.New("model file not found")
	svc := NewService(func() (Detector, error) { return nil, loadErr }, detections.DecodeFile, nil)

	result, err := svc.DetectAndCrop(context.Background(), "unused.png", nil)
	assert.Nil(t, result)
	assert.Equal(t, KindLoadFailure, KindOf(err))
	assert.ErrorIs(t, err, loadErr)
}

func TestDetectAndCrop_JPEGInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, patternImage(120, 80), &jpeg.Options{Quality: 90}))
	require.NoError(t, f.Close())

	svc := newTestService(&fakeDetector{detections: []models.Detection{{Box: box(10, 20, 70, 50)}}})
	result, err := svc.DetectAndCrop(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, 60, result.Cropped.Bounds().Dx())
	assert.Equal(t, 30, result.Cropped.Bounds().Dy())
	for i := 3; i < len(result.Annotated.Pix); i += 4 {
		require.Equal(t, uint8(0xff), result.Annotated.Pix[i])
	}
}

func TestToRGB_DropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 128})
	src.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	dst := ToRGB(src)

	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, dst.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, dst.NRGBAAt(1, 0))
	assert.Equal(t, uint8(128), src.NRGBAAt(0, 0).A, "source must not be modified")
}

func TestDrawOutline_SmallBoxIsFilled(t *testing.T) {
	img := patternImage(10, 10)
	drawOutline(img, image.Rect(2, 2, 5, 4))

	green := color.NRGBA{R: 0, G: 255, B: 0, A: 255}
	for y := 2; y < 4; y++ {
		for x := 2; x < 5; x++ {
			assert.Equal(t, green, img.NRGBAAt(x, y))
		}
	}
	assert.NotEqual(t, green, img.NRGBAAt(5, 2))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "load_failure", KindLoadFailure.String())
	assert.Equal(t, "no_detection", KindNoDetection.String())
	assert.Equal(t, "processing_failure", KindProcessingFailure.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
