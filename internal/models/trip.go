package models

import (
	"time"
)

// TripStatus is the lifecycle state of a driving session.
type TripStatus string

const (
	TripOngoing  TripStatus = "ONGOING"
	TripFinished TripStatus = "FINISHED"
)

// Trip represents one continuous driving session for a user.
type Trip struct {
	ID        int64      `json:"trip_id" bson:"_id"`
	UserID    int64      `json:"user_id" bson:"user_id"`
	StartTime time.Time  `json:"start_time" bson:"start_time"`
	EndTime   *time.Time `json:"end_time" bson:"end_time,omitempty"`
	Status    TripStatus `json:"status" bson:"status"`
}

// IsActive reports whether the trip still accepts detections.
func (t Trip) IsActive() bool {
	return t.Status == TripOngoing
}

// DurationMinutes returns the whole minutes between start and end, or nil
// while the trip is still running.
func (t Trip) DurationMinutes() *int {
	if t.EndTime == nil {
		return nil
	}
	minutes := int(t.EndTime.Sub(t.StartTime) / time.Minute)
	return &minutes
}

// TripSummary is a trip with its detection count, without the logs.
type TripSummary struct {
	Trip
	TotalDetections int  `json:"total_detections"`
	DurationMinutes *int `json:"duration_minutes"`
}

// TripWithLogs is a trip together with every detection logged against it.
type TripWithLogs struct {
	TripSummary
	Logs []DetectionLog `json:"logs"`
}
