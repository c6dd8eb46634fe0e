package plates

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/Tutortoise/plate-detection-service/models"

	"github.com/disintegration/imaging"
)

const outlineThickness = 2

var outlineColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// ToRGB copies img into a fresh opaque NRGBA buffer. Alpha is discarded, not
// composited, so the colour channels match the source's RGB values.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func boxRect(box models.BoundingBox) image.Rectangle {
	return image.Rect(box.XMin, box.YMin, box.XMax, box.YMax)
}

// drawOutline paints the two outermost rows and columns of rect in the
// outline colour. Parts outside img are skipped.
func drawOutline(img *image.NRGBA, rect image.Rectangle) {
	rect = rect.Canon()
	t := outlineThickness
	if rect.Dx() < 2*t || rect.Dy() < 2*t {
		fill(img, rect)
		return
	}

	fill(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t))
	fill(img, image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y))
	fill(img, image.Rect(rect.Min.X, rect.Min.Y+t, rect.Min.X+t, rect.Max.Y-t))
	fill(img, image.Rect(rect.Max.X-t, rect.Min.Y+t, rect.Max.X, rect.Max.Y-t))
}

func fill(img *image.NRGBA, rect image.Rectangle) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(img, rect, &image.Uniform{C: outlineColor}, image.Point{}, draw.Src)
}

// cropBox copies the region of img covered by box, clipped to img's bounds.
// ok is false when nothing of the box lies inside the image.
func cropBox(img *image.NRGBA, box models.BoundingBox) (cropped *image.NRGBA, ok bool) {
	rect := boxRect(box).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, false
	}
	return imaging.Crop(img, rect), true
}
