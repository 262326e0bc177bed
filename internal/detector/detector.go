// Package detector wraps the external object-detection model behind a uniform
// Detection list.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/ukydev/drowsiness-monitor/internal/frame"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// ErrModelUnavailable is returned when no model is loaded. It is distinct from
// a successful inference that found nothing.
var ErrModelUnavailable = errors.New("model not loaded")

// RawDetection is one box as emitted by a model, before normalization.
type RawDetection struct {
	ClassID    int
	Label      string
	Confidence float64
	Box        [4]float64 // x1, y1, x2, y2 in source pixels
}

// Model is an inference backend. Implementations must be safe for concurrent
// use and must not keep per-call state between Predict calls.
type Model interface {
	Predict(ctx context.Context, img image.Image) ([]RawDetection, error)
	Labels() []string
}

// Adapter normalizes model output into models.Detection values.
type Adapter struct {
	model Model
}

// NewAdapter creates an adapter. A nil model yields an adapter that reports
// ErrModelUnavailable for every call.
func NewAdapter(model Model) *Adapter {
	return &Adapter{model: model}
}

// Available reports whether a model is loaded.
func (a *Adapter) Available() bool {
	return a != nil && a.model != nil
}

// Detect runs inference on a decoded frame. The result keeps model emission
// order; confidence is passed through untouched.
func (a *Adapter) Detect(ctx context.Context, f *frame.Frame) ([]models.Detection, error) {
	if !a.Available() {
		return nil, ErrModelUnavailable
	}
	if f == nil || f.Image == nil {
		return nil, fmt.Errorf("detect: nil frame")
	}

	raw, err := a.model.Predict(ctx, f.Image)
	if err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	return Normalize(raw, a.model.Labels()), nil
}

// Normalize resolves labels and converts box coordinates to integers by
// truncation toward zero.
func Normalize(raw []RawDetection, labels []string) []models.Detection {
	out := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.Detection{
			Label:      resolveLabel(r, labels),
			Confidence: r.Confidence,
			Box: models.BoundingBox{
				X1: int(r.Box[0]),
				Y1: int(r.Box[1]),
				X2: int(r.Box[2]),
				Y2: int(r.Box[3]),
			},
		})
	}
	return out
}

func resolveLabel(r RawDetection, labels []string) string {
	if r.Label != "" {
		return r.Label
	}
	if r.ClassID >= 0 && r.ClassID < len(labels) {
		return labels[r.ClassID]
	}
	return fmt.Sprintf("class_%d", r.ClassID)
}
