package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/drowsiness-monitor/internal/models"
)

var (
	// ErrNotFound is returned when a lookup by ID or key matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrActiveTripExists is returned by CreateTrip when the user already has an ONGOING trip.
	ErrActiveTripExists = errors.New("user already has an active trip")
	// ErrTripNotActive is returned by FinishTrip when the trip is no longer ONGOING.
	ErrTripNotActive = errors.New("trip is not active")
	// ErrDuplicateEmail is returned when registering an email that is already taken.
	ErrDuplicateEmail = errors.New("email already registered")
)

// TripStore defines the persistence operations for trips.
type TripStore interface {
	CreateTrip(ctx context.Context, userID int64, start time.Time) (models.Trip, error)
	FindActiveTrip(ctx context.Context, userID int64) (*models.Trip, error)
	FindTripByID(ctx context.Context, id int64) (*models.Trip, error)
	FinishTrip(ctx context.Context, tripID int64, end time.Time) (models.Trip, error)
	// FindTripsByUser returns the user's trips, newest first. limit <= 0 means no limit.
	FindTripsByUser(ctx context.Context, userID int64, limit int) ([]models.Trip, error)
}

// DetectionLogStore defines the persistence operations for detection logs.
type DetectionLogStore interface {
	InsertDetectionLog(ctx context.Context, entry models.DetectionLog) (models.DetectionLog, error)
	// FindLogsByTrip returns the trip's logs ordered by timestamp.
	FindLogsByTrip(ctx context.Context, tripID int64) ([]models.DetectionLog, error)
	CountLogsByTrip(ctx context.Context, tripID int64) (int, error)
	CountLogsByUser(ctx context.Context, userID int64) (int, error)
	DetectionBreakdown(ctx context.Context, userID int64) (map[string]int, error)
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) (models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
	UpdateLastLogin(ctx context.Context, id int64) error
}

// ContactCollection defines the interface for emergency contact operations.
type ContactCollection interface {
	InsertContact(ctx context.Context, contact models.EmergencyContact) (models.EmergencyContact, error)
	FindContactsByUser(ctx context.Context, userID int64) ([]models.EmergencyContact, error)
	FindContactByID(ctx context.Context, id int64) (*models.EmergencyContact, error)
	UpdateContact(ctx context.Context, contact models.EmergencyContact) error
	DeleteContact(ctx context.Context, id int64) error
}

// Store bundles every collection a backend provides.
type Store interface {
	TripStore
	DetectionLogStore
	UserCollection
	ContactCollection
	Close(ctx context.Context) error
}
