package models

import (
	"math"
	"time"
)

// BoundingBox is a detection rectangle in pixel coordinates.
type BoundingBox struct {
	X1 int `json:"x1" bson:"x1"`
	Y1 int `json:"y1" bson:"y1"`
	X2 int `json:"x2" bson:"x2"`
	Y2 int `json:"y2" bson:"y2"`
}

// Array returns the box as [x1, y1, x2, y2].
func (b BoundingBox) Array() [4]int {
	return [4]int{b.X1, b.Y1, b.X2, b.Y2}
}

// Detection is one labeled observation produced by the detector for a single frame.
type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// DetectionView is the wire form of a Detection sent back to clients.
type DetectionView struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

// View converts the detection for presentation, rounding confidence to two decimals.
func (d Detection) View() DetectionView {
	return DetectionView{
		Label:      d.Label,
		Confidence: math.Round(d.Confidence*100) / 100,
		Box:        d.Box.Array(),
	}
}

// Views converts a detection list for presentation, preserving order.
func Views(detections []Detection) []DetectionView {
	views := make([]DetectionView, 0, len(detections))
	for _, d := range detections {
		views = append(views, d.View())
	}
	return views
}

// DetectionLog is a durable detection event bound to a trip.
type DetectionLog struct {
	ID          int64     `json:"log_id" bson:"_id"`
	TripID      int64     `json:"trip_id" bson:"trip_id"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	EventType   string    `json:"event_type" bson:"event_type"` // drowsy, head drop, yawn, phone, distracted, ...
	Confidence  float64   `json:"confidence" bson:"confidence"`
	GPSLocation *string   `json:"gps_location" bson:"gps_location,omitempty"`
}

// DetectionLogCreate is the request body for logging a detection manually.
type DetectionLogCreate struct {
	EventType   string     `json:"event_type"`
	Confidence  float64    `json:"confidence"`
	GPSLocation *string    `json:"gps_location,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}
