package trip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// MockTripStore is a mock implementation of db.TripStore
type MockTripStore struct {
	mock.Mock
}

func (m *MockTripStore) CreateTrip(ctx context.Context, userID int64, start time.Time) (models.Trip, error) {
	args := m.Called(ctx, userID, start)
	return args.Get(0).(models.Trip), args.Error(1)
}

func (m *MockTripStore) FindActiveTrip(ctx context.Context, userID int64) (*models.Trip, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *MockTripStore) FindTripByID(ctx context.Context, id int64) (*models.Trip, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *MockTripStore) FinishTrip(ctx context.Context, tripID int64, end time.Time) (models.Trip, error) {
	args := m.Called(ctx, tripID, end)
	return args.Get(0).(models.Trip), args.Error(1)
}

func (m *MockTripStore) FindTripsByUser(ctx context.Context, userID int64, limit int) ([]models.Trip, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]models.Trip), args.Error(1)
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestManager_StartCreatesTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewManagerWithClock(db.NewMemoryStore(), fixedClock(now))

	trip, err := m.Start(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), trip.UserID)
	assert.Equal(t, models.TripOngoing, trip.Status)
	assert.Equal(t, now, trip.StartTime)
	assert.Nil(t, trip.EndTime)
}

func TestManager_StartIsIdempotent(t *testing.T) {
	store := db.NewMemoryStore()
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewManagerWithClock(store, func() time.Time { return clock })

	first, err := m.Start(context.Background(), 1)
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	second, err := m.Start(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	trips, err := store.FindTripsByUser(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestManager_ConcurrentStart(t *testing.T) {
	store := db.NewMemoryStore()
	m := NewManager(store)

	const callers = 16
	results := make([]models.Trip, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trip, err := m.Start(context.Background(), 42)
			assert.NoError(t, err)
			results[i] = trip
		}(i)
	}
	wg.Wait()

	for _, trip := range results {
		assert.Equal(t, results[0].ID, trip.ID)
	}
	trips, err := store.FindTripsByUser(context.Background(), 42, 0)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
	assert.Equal(t, 0, m.locks.size())
}

func TestManager_StartLosesRaceToOtherProcess(t *testing.T) {
	store := new(MockTripStore)
	existing := &models.Trip{ID: 9, UserID: 3, Status: models.TripOngoing}
	store.On("FindActiveTrip", mock.Anything, int64(3)).Return(nil, nil).Once()
	store.On("CreateTrip", mock.Anything, int64(3), mock.Anything).Return(models.Trip{}, db.ErrActiveTripExists)
	store.On("FindActiveTrip", mock.Anything, int64(3)).Return(existing, nil).Once()

	trip, err := NewManager(store).Start(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, *existing, trip)
	store.AssertExpectations(t)
}

func TestManager_StartStoreError(t *testing.T) {
	store := new(MockTripStore)
	store.On("FindActiveTrip", mock.Anything, int64(3)).Return(nil, errors.New("db down"))

	_, err := NewManager(store).Start(context.Background(), 3)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestManager_End(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := start
	m := NewManagerWithClock(db.NewMemoryStore(), func() time.Time { return clock })

	_, err := m.Start(context.Background(), 5)
	require.NoError(t, err)

	clock = start.Add(25*time.Minute + 30*time.Second)
	trip, err := m.End(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.TripFinished, trip.Status)
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, clock, *trip.EndTime)
	assert.Equal(t, 25, *trip.DurationMinutes())

	active, err := m.Active(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = m.End(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNoActiveTrip)
}

func TestManager_EndNeverBeforeStart(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := start
	m := NewManagerWithClock(db.NewMemoryStore(), func() time.Time { return clock })

	_, err := m.Start(context.Background(), 5)
	require.NoError(t, err)

	// wall clock stepped backwards
	clock = start.Add(-time.Minute)
	trip, err := m.End(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, start, *trip.EndTime)
}

func TestManager_EndWithoutTrip(t *testing.T) {
	_, err := NewManager(db.NewMemoryStore()).End(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNoActiveTrip)
}

func TestManager_EndRacedByOtherProcess(t *testing.T) {
	store := new(MockTripStore)
	store.On("FindActiveTrip", mock.Anything, int64(3)).
		Return(&models.Trip{ID: 9, UserID: 3, Status: models.TripOngoing}, nil)
	store.On("FinishTrip", mock.Anything, int64(9), mock.Anything).Return(models.Trip{}, db.ErrTripNotActive)

	_, err := NewManager(store).End(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoActiveTrip)
}

func TestManager_ActiveAbsentIsNotError(t *testing.T) {
	trip, err := NewManager(db.NewMemoryStore()).Active(context.Background(), 1)
	assert.NoError(t, err)
	assert.Nil(t, trip)
}
