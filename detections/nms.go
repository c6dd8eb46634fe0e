package detections

import (
	"math"
	"sort"

	"github.com/Tutortoise/plate-detection-service/models"
)

// nonMaxSuppression orders detections by confidence and drops every box that
// overlaps an already kept box by more than iouThreshold. The returned slice
// is in descending confidence order; equal scores keep their decode order.
func nonMaxSuppression(detections []models.Detection, iouThreshold float64) []models.Detection {
	if len(detections) == 0 {
		return nil
	}

	sortDetectionsByConfidence(detections)

	kept := make([]models.Detection, 0, len(detections))
	for _, candidate := range detections {
		suppressed := false
		for _, existing := range kept {
			if calculateIOU(candidate.Box, existing.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		kept = append(kept, candidate)
		if len(kept) == MaxDetections {
			break
		}
	}

	return kept
}

func calculateIOU(box1, box2 models.BoundingBox) float64 {
	x1 := math.Max(float64(box1.XMin), float64(box2.XMin))
	y1 := math.Max(float64(box1.YMin), float64(box2.YMin))
	x2 := math.Min(float64(box1.XMax), float64(box2.XMax))
	y2 := math.Min(float64(box1.YMax), float64(box2.YMax))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64(box1.Width() * box1.Height())
	area2 := float64(box2.Width() * box2.Height())
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
