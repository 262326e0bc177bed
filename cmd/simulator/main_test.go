package main

import (
	"bytes"
	"context"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/drowsiness-monitor/internal/auth"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/detectlog"
	"github.com/ukydev/drowsiness-monitor/internal/detector"
	"github.com/ukydev/drowsiness-monitor/internal/handlers"
	"github.com/ukydev/drowsiness-monitor/internal/middleware"
	"github.com/ukydev/drowsiness-monitor/internal/stats"
	"github.com/ukydev/drowsiness-monitor/internal/stream"
	"github.com/ukydev/drowsiness-monitor/internal/trip"
)

type yawnModel struct{}

func (yawnModel) Predict(ctx context.Context, img image.Image) ([]detector.RawDetection, error) {
	return []detector.RawDetection{{Label: "yawn", Confidence: 0.83, Box: [4]float64{1, 1, 10, 10}}}, nil
}

func (yawnModel) Labels() []string { return nil }

// newAPIServer runs the real API on an in-memory store.
func newAPIServer(t *testing.T) (*httptest.Server, *db.MemoryStore) {
	t.Helper()
	store := db.NewMemoryStore()
	authService := auth.NewService("sim-secret", time.Hour)
	writer := detectlog.NewWriter(store, store, detectlog.PolicyVerify)
	ai := handlers.NewAIHandler(stream.NewHandler(detector.NewAdapter(yawnModel{}), stream.Options{}), 1<<20)

	server := httptest.NewServer(handlers.NewRouter(handlers.Routes{
		Auth:           handlers.NewAuthHandler(authService, store),
		Contacts:       handlers.NewContactHandler(store),
		Trips:          handlers.NewTripHandler(trip.NewManager(store), writer),
		Statistics:     handlers.NewStatisticsHandler(stats.NewService(store, store)),
		AI:             ai,
		AuthMiddleware: middleware.NewAuthMiddleware(authService),
		CORSOrigins:    "*",
	}))
	t.Cleanup(func() {
		server.Close()
		ai.Close()
	})
	return server, store
}

func TestJitterLocation(t *testing.T) {
	base := Location{Lat: 13.7563, Lon: 100.5018}
	for i := 0; i < 100; i++ {
		loc := jitterLocation(base, 500)
		// 500 m is well under 0.01 degrees at this latitude
		assert.Less(t, math.Abs(loc.Lat-base.Lat), 0.01)
		assert.Less(t, math.Abs(loc.Lon-base.Lon), 0.01)
	}
}

func TestLocationString(t *testing.T) {
	assert.Equal(t, "13.756300,100.501800", Location{Lat: 13.7563, Lon: 100.5018}.String())
}

func TestLoadSimConfig(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://api.local:9000/")
	t.Setenv("SIM_DRIVERS", "3")
	t.Setenv("SIM_FRAMES", "0")
	t.Setenv("SIM_TICK_MS", "25")
	t.Setenv("SIM_PASSWORD", "")

	cfg := loadSimConfig()
	assert.Equal(t, "http://api.local:9000", cfg.APIURL)
	assert.Equal(t, 3, cfg.Drivers)
	assert.Equal(t, 0, cfg.Frames)
	assert.Equal(t, 25*time.Millisecond, cfg.Interval)
	assert.Equal(t, "simulator-pass", cfg.Password)
}

func TestLoadSimConfig_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("SIM_DRIVERS", "zero")
	t.Setenv("SIM_TICK_MS", "-5")

	cfg := loadSimConfig()
	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, 1, cfg.Drivers)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval)
}

func TestStreamURL(t *testing.T) {
	c := NewAPIClient("https://api.example.com")
	c.token = "a b"
	assert.Equal(t, "wss://api.example.com/ai/ws/detect?token=a+b", c.StreamURL())

	c = NewAPIClient("http://localhost:8080")
	c.token = "tok"
	assert.Equal(t, "ws://localhost:8080/ai/ws/detect?token=tok", c.StreamURL())
}

func TestSyntheticFrames(t *testing.T) {
	frames, err := syntheticFrames(3, 64)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	for _, f := range frames {
		img, err := imaging.Decode(bytesReader(f))
		require.NoError(t, err)
		assert.Equal(t, 64, img.Bounds().Dx())
	}
}

func TestLoadFrames(t *testing.T) {
	dir := t.TempDir()
	frames, err := syntheticFrames(2, 32)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), frames[1], 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), frames[0], 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	loaded, err := loadFrames(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, frames[0], loaded[0])

	_, err = loadFrames(t.TempDir())
	assert.Error(t, err)
}

func TestRegister_ToleratesExistingAccount(t *testing.T) {
	server, _ := newAPIServer(t)
	client := NewAPIClient(server.URL)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx, "dup@example.com", "password123", "Dup"))
	require.NoError(t, client.Register(ctx, "dup@example.com", "password123", "Dup"))
	require.NoError(t, client.Login(ctx, "dup@example.com", "password123"))
	assert.NotEmpty(t, client.token)

	err := NewAPIClient(server.URL).Login(ctx, "dup@example.com", "wrong-password")
	assert.Error(t, err)
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "No active trip found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewAPIClient(server.URL).EndTrip(context.Background())
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSimulateDriver_EndToEnd(t *testing.T) {
	server, store := newAPIServer(t)
	frames, err := syntheticFrames(4, 48)
	require.NoError(t, err)

	cfg := SimConfig{APIURL: server.URL, Frames: 3, Interval: time.Millisecond, Password: "password123"}
	result, err := simulateDriver(context.Background(), cfg, 1, frames)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Frames)
	assert.Equal(t, 3, result.Alerts)
	assert.Equal(t, 3, result.Statuses["yawn"])

	user, err := store.FindUserByEmail(context.Background(), "sim-driver-1@example.com")
	require.NoError(t, err)

	trips, err := store.FindTripsByUser(context.Background(), user.ID, 0)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.False(t, trips[0].IsActive())

	logs, err := store.FindLogsByTrip(context.Background(), trips[0].ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "yawn", logs[0].EventType)
	require.NotNil(t, logs[0].GPSLocation)
	assert.Contains(t, *logs[0].GPSLocation, ",")
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
