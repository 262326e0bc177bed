package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// MemoryStore is an in-process Store backed by maps. It is safe for
// concurrent use and is used by tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      map[string]int64
	users    map[int64]models.User
	trips    map[int64]models.Trip
	logs     map[int64]models.DetectionLog
	contacts map[int64]models.EmergencyContact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:      make(map[string]int64),
		users:    make(map[int64]models.User),
		trips:    make(map[int64]models.Trip),
		logs:     make(map[int64]models.DetectionLog),
		contacts: make(map[int64]models.EmergencyContact),
	}
}

// nextID must be called with mu held.
func (s *MemoryStore) nextID(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// CreateTrip inserts an ONGOING trip unless the user already has one.
func (s *MemoryStore) CreateTrip(ctx context.Context, userID int64, start time.Time) (models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.trips {
		if t.UserID == userID && t.IsActive() {
			return models.Trip{}, ErrActiveTripExists
		}
	}
	trip := models.Trip{
		ID:        s.nextID("trips"),
		UserID:    userID,
		StartTime: start,
		Status:    models.TripOngoing,
	}
	s.trips[trip.ID] = trip
	return trip, nil
}

// FindActiveTrip returns the user's ONGOING trip, or nil when there is none.
func (s *MemoryStore) FindActiveTrip(ctx context.Context, userID int64) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.trips {
		if t.UserID == userID && t.IsActive() {
			trip := t
			return &trip, nil
		}
	}
	return nil, nil
}

// FindTripByID returns the trip or ErrNotFound.
func (s *MemoryStore) FindTripByID(ctx context.Context, id int64) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// FinishTrip marks an ONGOING trip as FINISHED.
func (s *MemoryStore) FinishTrip(ctx context.Context, tripID int64, end time.Time) (models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trips[tripID]
	if !ok {
		return models.Trip{}, ErrNotFound
	}
	if !t.IsActive() {
		return models.Trip{}, ErrTripNotActive
	}
	t.EndTime = &end
	t.Status = models.TripFinished
	s.trips[tripID] = t
	return t, nil
}

// FindTripsByUser returns the user's trips newest first.
func (s *MemoryStore) FindTripsByUser(ctx context.Context, userID int64, limit int) ([]models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trips := make([]models.Trip, 0)
	for _, t := range s.trips {
		if t.UserID == userID {
			trips = append(trips, t)
		}
	}
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].StartTime.Equal(trips[j].StartTime) {
			return trips[i].ID > trips[j].ID
		}
		return trips[i].StartTime.After(trips[j].StartTime)
	})
	if limit > 0 && len(trips) > limit {
		trips = trips[:limit]
	}
	return trips, nil
}

// InsertDetectionLog stores a log entry and assigns its ID. The trip must exist.
func (s *MemoryStore) InsertDetectionLog(ctx context.Context, entry models.DetectionLog) (models.DetectionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[entry.TripID]; !ok {
		return models.DetectionLog{}, ErrNotFound
	}
	entry.ID = s.nextID("detection_logs")
	s.logs[entry.ID] = entry
	return entry, nil
}

// FindLogsByTrip returns the trip's logs ordered by timestamp.
func (s *MemoryStore) FindLogsByTrip(ctx context.Context, tripID int64) ([]models.DetectionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]models.DetectionLog, 0)
	for _, l := range s.logs {
		if l.TripID == tripID {
			logs = append(logs, l)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].Timestamp.Equal(logs[j].Timestamp) {
			return logs[i].ID < logs[j].ID
		}
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})
	return logs, nil
}

// CountLogsByTrip counts the logs attached to a trip.
func (s *MemoryStore) CountLogsByTrip(ctx context.Context, tripID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.logs {
		if l.TripID == tripID {
			n++
		}
	}
	return n, nil
}

// CountLogsByUser counts the logs across all of the user's trips.
func (s *MemoryStore) CountLogsByUser(ctx context.Context, userID int64) (int, error) {
	breakdown, err := s.DetectionBreakdown(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range breakdown {
		n += c
	}
	return n, nil
}

// DetectionBreakdown counts the user's logs per event type.
func (s *MemoryStore) DetectionBreakdown(ctx context.Context, userID int64) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	breakdown := make(map[string]int)
	for _, l := range s.logs {
		t, ok := s.trips[l.TripID]
		if !ok || t.UserID != userID {
			continue
		}
		breakdown[l.EventType]++
	}
	return breakdown, nil
}

// InsertUser stores a new user, rejecting duplicate emails.
func (s *MemoryStore) InsertUser(ctx context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return models.User{}, ErrDuplicateEmail
		}
	}
	now := time.Now()
	user.ID = s.nextID("users")
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	s.users[user.ID] = user
	return user, nil
}

// FindUserByID returns the user or ErrNotFound.
func (s *MemoryStore) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// FindUserByEmail returns the user or ErrNotFound. Emails compare case-insensitively.
func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateUser replaces a stored user.
func (s *MemoryStore) UpdateUser(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	s.users[user.ID] = user
	return nil
}

// UpdateLastLogin stamps the user's last login time.
func (s *MemoryStore) UpdateLastLogin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	u.UpdatedAt = now
	s.users[id] = u
	return nil
}

// InsertContact stores a new contact and assigns its ID.
func (s *MemoryStore) InsertContact(ctx context.Context, contact models.EmergencyContact) (models.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contact.ID = s.nextID("emergency_contacts")
	s.contacts[contact.ID] = contact
	return contact, nil
}

// FindContactsByUser returns the user's contacts ordered by ID.
func (s *MemoryStore) FindContactsByUser(ctx context.Context, userID int64) ([]models.EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts := make([]models.EmergencyContact, 0)
	for _, c := range s.contacts {
		if c.UserID == userID {
			contacts = append(contacts, c)
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
	return contacts, nil
}

// FindContactByID returns the contact or ErrNotFound.
func (s *MemoryStore) FindContactByID(ctx context.Context, id int64) (*models.EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// UpdateContact replaces a stored contact.
func (s *MemoryStore) UpdateContact(ctx context.Context, contact models.EmergencyContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[contact.ID]; !ok {
		return ErrNotFound
	}
	s.contacts[contact.ID] = contact
	return nil
}

// DeleteContact removes a contact.
func (s *MemoryStore) DeleteContact(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}
