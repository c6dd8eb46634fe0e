package models

import "time"

// BoundingBox is an axis-aligned box in source image pixels.
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

func (b BoundingBox) Width() int  { return b.XMax - b.XMin }
func (b BoundingBox) Height() int { return b.YMax - b.YMin }

type Detection struct {
	Box        BoundingBox
	Confidence float32
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Suppression time.Duration
	Render      time.Duration
	Total       time.Duration
}
