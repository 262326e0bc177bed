package detector

import (
	"sort"
)

// decodeYOLO turns a YOLOv8-style output tensor laid out as [4+classes, anchors]
// into raw detections scaled back to source pixels. Only the best class per
// anchor is kept, and only when it reaches the confidence threshold.
func decodeYOLO(out []float32, numClasses, numAnchors int, threshold float32, scaleX, scaleY, maxX, maxY float64) []RawDetection {
	dets := make([]RawDetection, 0, 32)
	for i := 0; i < numAnchors; i++ {
		bestClass := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			score := out[(4+c)*numAnchors+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}

		cx := float64(out[i])
		cy := float64(out[numAnchors+i])
		w := float64(out[2*numAnchors+i])
		h := float64(out[3*numAnchors+i])

		dets = append(dets, RawDetection{
			ClassID:    bestClass,
			Confidence: float64(bestScore),
			Box: [4]float64{
				clamp((cx-w/2)*scaleX, 0, maxX),
				clamp((cy-h/2)*scaleY, 0, maxY),
				clamp((cx+w/2)*scaleX, 0, maxX),
				clamp((cy+h/2)*scaleY, 0, maxY),
			},
		})
	}
	return dets
}

// nonMaxSuppression keeps the highest-confidence box of each overlapping group
// of the same class. The result is ordered by descending confidence.
func nonMaxSuppression(dets []RawDetection, iouThreshold float64) []RawDetection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]RawDetection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}
			if iou(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// anchorCount returns the number of YOLOv8 prediction cells for a square input
// of the given size (strides 8, 16 and 32).
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := size / stride
		n += side * side
	}
	return n
}
