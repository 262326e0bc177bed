package detectlog

import (
	"context"
	"fmt"

	"github.com/ukydev/drowsiness-monitor/internal/stream"
)

// StreamRecorder writes every detection of a streamed frame to the user's
// active trip. Frames arriving while the user has no active trip are skipped.
type StreamRecorder struct {
	writer *Writer
}

// NewStreamRecorder creates a recorder that writes through w.
func NewStreamRecorder(w *Writer) *StreamRecorder {
	return &StreamRecorder{writer: w}
}

// Observe implements stream.Observer.
func (r *StreamRecorder) Observe(ctx context.Context, result stream.FrameResult) error {
	if len(result.Detections) == 0 || result.Session.UserID == 0 {
		return nil
	}

	active, err := r.writer.trips.FindActiveTrip(ctx, result.Session.UserID)
	if err != nil {
		return fmt.Errorf("resolve active trip: %w", err)
	}
	if active == nil {
		return nil
	}

	at := result.At
	for _, d := range result.Detections {
		e := FromDetection(d, nil)
		e.Timestamp = &at
		if _, err := r.writer.Write(ctx, active.ID, e); err != nil {
			return err
		}
	}
	return nil
}
