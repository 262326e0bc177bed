package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

// Integration test (requires running MongoDB)
func TestMongoStore_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
		return
	}
	runStoreSuite(t, func(t *testing.T) Store {
		client, err := ConnectMongo(uri)
		if err != nil {
			t.Skipf("failed to connect: %v, skipping integration test", err)
		}
		dbName := fmt.Sprintf("test_drowsiness_%d", time.Now().UnixNano())
		store, err := NewMongoStore(context.Background(), client, dbName)
		require.NoError(t, err)
		// cleanups run in reverse: drop first, then disconnect
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		t.Cleanup(func() { _ = client.Database(dbName).Drop(context.Background()) })
		return store
	})
}

// Integration test (requires running PostgreSQL)
func TestPostgresStore_Integration(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
		return
	}
	runStoreSuite(t, func(t *testing.T) Store {
		store, err := ConnectPostgres(context.Background(), url)
		if err != nil {
			t.Skipf("failed to connect: %v, skipping integration test", err)
		}
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo("mongodb://bad:uri")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestNewMongoStore_NilClient(t *testing.T) {
	_, err := NewMongoStore(context.Background(), nil, "test")
	assert.Error(t, err)
}

func newTestUser(t *testing.T, store Store) models.User {
	t.Helper()
	user, err := store.InsertUser(context.Background(), models.User{
		Email:        fmt.Sprintf("driver-%d@example.com", time.Now().UnixNano()),
		PasswordHash: "hash",
		FullName:     "Test Driver",
	})
	require.NoError(t, err)
	return user
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		store := newStore(t)

		user := newTestUser(t, store)
		assert.NotZero(t, user.ID)
		assert.True(t, user.IsActive)

		_, err := store.InsertUser(ctx, models.User{Email: user.Email, PasswordHash: "x"})
		assert.ErrorIs(t, err, ErrDuplicateEmail)

		found, err := store.FindUserByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)

		found.FullName = "Renamed"
		require.NoError(t, store.UpdateUser(ctx, *found))
		require.NoError(t, store.UpdateLastLogin(ctx, user.ID))

		byID, err := store.FindUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", byID.FullName)
		assert.NotNil(t, byID.LastLogin)

		_, err = store.FindUserByID(ctx, user.ID+100000)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("trip lifecycle", func(t *testing.T) {
		store := newStore(t)
		user := newTestUser(t, store)

		active, err := store.FindActiveTrip(ctx, user.ID)
		require.NoError(t, err)
		assert.Nil(t, active)

		start := time.Now().UTC().Truncate(time.Millisecond)
		trip, err := store.CreateTrip(ctx, user.ID, start)
		require.NoError(t, err)
		assert.Equal(t, models.TripOngoing, trip.Status)
		assert.Nil(t, trip.EndTime)

		_, err = store.CreateTrip(ctx, user.ID, start)
		assert.ErrorIs(t, err, ErrActiveTripExists)

		active, err = store.FindActiveTrip(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, trip.ID, active.ID)

		end := start.Add(90 * time.Second)
		finished, err := store.FinishTrip(ctx, trip.ID, end)
		require.NoError(t, err)
		assert.Equal(t, models.TripFinished, finished.Status)
		require.NotNil(t, finished.EndTime)
		assert.True(t, finished.EndTime.Equal(end))

		_, err = store.FinishTrip(ctx, trip.ID, end)
		assert.ErrorIs(t, err, ErrTripNotActive)
		_, err = store.FinishTrip(ctx, trip.ID+100000, end)
		assert.ErrorIs(t, err, ErrNotFound)

		second, err := store.CreateTrip(ctx, user.ID, end.Add(time.Minute))
		require.NoError(t, err)
		assert.Greater(t, second.ID, trip.ID)

		trips, err := store.FindTripsByUser(ctx, user.ID, 0)
		require.NoError(t, err)
		require.Len(t, trips, 2)
		assert.Equal(t, second.ID, trips[0].ID)

		trips, err = store.FindTripsByUser(ctx, user.ID, 1)
		require.NoError(t, err)
		assert.Len(t, trips, 1)
	})

	t.Run("concurrent create yields one active trip", func(t *testing.T) {
		store := newStore(t)
		user := newTestUser(t, store)

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.CreateTrip(ctx, user.ID, time.Now())
				if err == nil {
					mu.Lock()
					created++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, ErrActiveTripExists), "unexpected error: %v", err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
	})

	t.Run("detection logs", func(t *testing.T) {
		store := newStore(t)
		user := newTestUser(t, store)
		other := newTestUser(t, store)

		base := time.Now().UTC().Truncate(time.Millisecond)
		trip, err := store.CreateTrip(ctx, user.ID, base)
		require.NoError(t, err)
		otherTrip, err := store.CreateTrip(ctx, other.ID, base)
		require.NoError(t, err)

		gps := "10.77,106.70"
		second, err := store.InsertDetectionLog(ctx, models.DetectionLog{
			TripID: trip.ID, Timestamp: base.Add(2 * time.Second), EventType: "drowsy", Confidence: 0.9,
		})
		require.NoError(t, err)
		first, err := store.InsertDetectionLog(ctx, models.DetectionLog{
			TripID: trip.ID, Timestamp: base.Add(time.Second), EventType: "yawn", Confidence: 0.87, GPSLocation: &gps,
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		_, err = store.InsertDetectionLog(ctx, models.DetectionLog{
			TripID: otherTrip.ID, Timestamp: base, EventType: "phone", Confidence: 0.5,
		})
		require.NoError(t, err)

		logs, err := store.FindLogsByTrip(ctx, trip.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "yawn", logs[0].EventType)
		assert.Equal(t, 0.87, logs[0].Confidence)
		require.NotNil(t, logs[0].GPSLocation)
		assert.Equal(t, gps, *logs[0].GPSLocation)
		assert.Equal(t, "drowsy", logs[1].EventType)

		n, err := store.CountLogsByTrip(ctx, trip.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.CountLogsByUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		breakdown, err := store.DetectionBreakdown(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"yawn": 1, "drowsy": 1}, breakdown)
	})

	t.Run("detection log for missing trip", func(t *testing.T) {
		store := newStore(t)

		_, err := store.InsertDetectionLog(ctx, models.DetectionLog{
			TripID: 999999, Timestamp: time.Now().UTC(), EventType: "yawn", Confidence: 0.87,
		})
		assert.ErrorIs(t, err, ErrNotFound)

		logs, err := store.FindLogsByTrip(ctx, 999999)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})

	t.Run("contacts", func(t *testing.T) {
		store := newStore(t)
		user := newTestUser(t, store)

		contact, err := store.InsertContact(ctx, models.EmergencyContact{
			UserID: user.ID, Name: "Mom", PhoneNumber: "0900000000", IsActive: true,
		})
		require.NoError(t, err)
		assert.NotZero(t, contact.ID)

		contact.Name = "Mother"
		require.NoError(t, store.UpdateContact(ctx, contact))

		contacts, err := store.FindContactsByUser(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, contacts, 1)
		assert.Equal(t, "Mother", contacts[0].Name)

		require.NoError(t, store.DeleteContact(ctx, contact.ID))
		_, err = store.FindContactByID(ctx, contact.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteContact(ctx, contact.ID), ErrNotFound)
	})
}
