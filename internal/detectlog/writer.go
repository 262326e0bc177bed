// Package detectlog records detection events against trips.
package detectlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/models"
	"github.com/ukydev/drowsiness-monitor/internal/trip"
)

var (
	ErrTripNotFound  = errors.New("trip not found")
	ErrTripNotOwned  = errors.New("trip belongs to another user")
	ErrTripNotActive = errors.New("trip is not active")
)

// OwnershipPolicy decides how WriteOwned treats a trip ID supplied by a caller.
type OwnershipPolicy string

const (
	// PolicyVerify requires the trip to exist, belong to the caller and be ONGOING.
	PolicyVerify OwnershipPolicy = "verify"
	// PolicyTrust skips owner and status checks. The trip must still exist.
	PolicyTrust OwnershipPolicy = "trust"
)

// ParsePolicy maps a configuration value to a policy. Unknown values fall back to verify.
func ParsePolicy(s string) OwnershipPolicy {
	if OwnershipPolicy(strings.ToLower(strings.TrimSpace(s))) == PolicyTrust {
		return PolicyTrust
	}
	return PolicyVerify
}

// Entry is the content of one detection log before it is bound to a trip.
type Entry struct {
	EventType   string
	Confidence  float64
	GPSLocation *string
	Timestamp   *time.Time
}

// FromDetection builds an entry from a detector result. Confidence is kept unrounded.
func FromDetection(d models.Detection, gps *string) Entry {
	return Entry{EventType: d.Label, Confidence: d.Confidence, GPSLocation: gps}
}

// FromRequest builds an entry from an HTTP request body.
func FromRequest(req models.DetectionLogCreate) Entry {
	return Entry{
		EventType:   req.EventType,
		Confidence:  req.Confidence,
		GPSLocation: req.GPSLocation,
		Timestamp:   req.Timestamp,
	}
}

// Writer persists detection logs.
type Writer struct {
	logs   db.DetectionLogStore
	trips  db.TripStore
	policy OwnershipPolicy
	now    func() time.Time
}

// NewWriter creates a Writer with the given ownership policy.
func NewWriter(logs db.DetectionLogStore, trips db.TripStore, policy OwnershipPolicy) *Writer {
	return &Writer{logs: logs, trips: trips, policy: policy, now: time.Now}
}

// Policy returns the ownership policy in force.
func (w *Writer) Policy() OwnershipPolicy {
	return w.policy
}

// Write stores an entry against tripID. The timestamp defaults to now when the
// entry carries none. Ownership is not checked here, but the trip must exist.
func (w *Writer) Write(ctx context.Context, tripID int64, e Entry) (models.DetectionLog, error) {
	ts := w.now().UTC()
	if e.Timestamp != nil {
		ts = e.Timestamp.UTC()
	}

	entry, err := w.logs.InsertDetectionLog(ctx, models.DetectionLog{
		TripID:      tripID,
		Timestamp:   ts,
		EventType:   e.EventType,
		Confidence:  e.Confidence,
		GPSLocation: e.GPSLocation,
	})
	if errors.Is(err, db.ErrNotFound) {
		return models.DetectionLog{}, ErrTripNotFound
	}
	if err != nil {
		return models.DetectionLog{}, fmt.Errorf("write detection log: %w", err)
	}
	return entry, nil
}

// WriteOwned stores an entry for a trip named by the caller, applying the ownership policy.
func (w *Writer) WriteOwned(ctx context.Context, userID, tripID int64, e Entry) (models.DetectionLog, error) {
	if w.policy != PolicyTrust {
		if err := w.verify(ctx, userID, tripID); err != nil {
			return models.DetectionLog{}, err
		}
	}
	return w.Write(ctx, tripID, e)
}

func (w *Writer) verify(ctx context.Context, userID, tripID int64) error {
	t, err := w.trips.FindTripByID(ctx, tripID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrTripNotFound
	}
	if err != nil {
		return fmt.Errorf("verify trip: %w", err)
	}
	if t.UserID != userID {
		log.WithFields(log.Fields{"user_id": userID, "trip_id": tripID}).Warn("Rejected detection log for foreign trip")
		return ErrTripNotOwned
	}
	if !t.IsActive() {
		return ErrTripNotActive
	}
	return nil
}

// WriteActive stores an entry against the user's ONGOING trip.
func (w *Writer) WriteActive(ctx context.Context, userID int64, e Entry) (models.DetectionLog, error) {
	active, err := w.trips.FindActiveTrip(ctx, userID)
	if err != nil {
		return models.DetectionLog{}, fmt.Errorf("resolve active trip: %w", err)
	}
	if active == nil {
		return models.DetectionLog{}, trip.ErrNoActiveTrip
	}
	return w.Write(ctx, active.ID, e)
}
