// Package trip manages the lifecycle of driving sessions: at most one ONGOING
// trip per user, started and ended on demand.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// ErrNoActiveTrip is returned when an operation needs an ONGOING trip and the user has none.
var ErrNoActiveTrip = errors.New("no active trip found")

// Clock returns the current time.
type Clock func() time.Time

// Manager starts and ends trips. Start and End are serialized per user.
type Manager struct {
	store db.TripStore
	now   Clock
	locks *keyedMutex
}

// NewManager creates a Manager using the wall clock.
func NewManager(store db.TripStore) *Manager {
	return NewManagerWithClock(store, time.Now)
}

// NewManagerWithClock creates a Manager with an injected clock.
func NewManagerWithClock(store db.TripStore, now Clock) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, now: now, locks: newKeyedMutex()}
}

// Start returns the user's ONGOING trip unchanged if there is one, otherwise
// creates a new trip starting now.
func (m *Manager) Start(ctx context.Context, userID int64) (models.Trip, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	active, err := m.store.FindActiveTrip(ctx, userID)
	if err != nil {
		return models.Trip{}, fmt.Errorf("start trip: %w", err)
	}
	if active != nil {
		return *active, nil
	}

	trip, err := m.store.CreateTrip(ctx, userID, m.now().UTC())
	if errors.Is(err, db.ErrActiveTripExists) {
		// another process won the race
		active, err = m.store.FindActiveTrip(ctx, userID)
		if err != nil {
			return models.Trip{}, fmt.Errorf("start trip: %w", err)
		}
		if active == nil {
			return models.Trip{}, fmt.Errorf("start trip: active trip vanished")
		}
		return *active, nil
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("start trip: %w", err)
	}

	log.WithFields(log.Fields{"user_id": userID, "trip_id": trip.ID}).Info("Trip started")
	return trip, nil
}

// End finishes the user's ONGOING trip. The end time is never earlier than the start time.
func (m *Manager) End(ctx context.Context, userID int64) (models.Trip, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	active, err := m.store.FindActiveTrip(ctx, userID)
	if err != nil {
		return models.Trip{}, fmt.Errorf("end trip: %w", err)
	}
	if active == nil {
		return models.Trip{}, ErrNoActiveTrip
	}

	end := m.now().UTC()
	if end.Before(active.StartTime) {
		end = active.StartTime
	}

	trip, err := m.store.FinishTrip(ctx, active.ID, end)
	if errors.Is(err, db.ErrTripNotActive) || errors.Is(err, db.ErrNotFound) {
		return models.Trip{}, ErrNoActiveTrip
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("end trip: %w", err)
	}

	log.WithFields(log.Fields{"user_id": userID, "trip_id": trip.ID}).Info("Trip ended")
	return trip, nil
}

// Active returns the user's ONGOING trip, or nil when there is none.
func (m *Manager) Active(ctx context.Context, userID int64) (*models.Trip, error) {
	trip, err := m.store.FindActiveTrip(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active trip: %w", err)
	}
	return trip, nil
}
