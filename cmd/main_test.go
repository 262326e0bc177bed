package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/drowsiness-monitor/internal/config"
	"github.com/ukydev/drowsiness-monitor/internal/db"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreDriver:         "memory",
		JWTSecret:           "main-test-secret",
		JWTExpiry:           time.Hour,
		ModelPath:           "does/not/exist.onnx",
		ModelLabels:         config.DefaultLabels,
		ModelInputSize:      640,
		StreamMaxFrameBytes: 1 << 20,
		OwnershipPolicy:     "verify",
		CORSOrigins:         "*",
	}
}

func TestOpenStore_Memory(t *testing.T) {
	store, err := openStore(context.Background(), testConfig())
	require.NoError(t, err)
	assert.IsType(t, &db.MemoryStore{}, store)
	assert.NoError(t, store.Close(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "cassandra"
	_, err := openStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadModel_MissingFile(t *testing.T) {
	model, err := loadModel(testConfig())
	assert.Error(t, err)
	assert.Nil(t, model)
}

func TestNewApp_ServesWithoutModel(t *testing.T) {
	a := newApp(testConfig(), db.NewMemoryStore(), nil, nil)
	t.Cleanup(a.ai.Close)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest("POST", "/ai/detect", strings.NewReader("abc")))
	assert.JSONEq(t, `{"error":"Model not loaded"}`, w.Body.String())

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var metrics map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, false, metrics["model_loaded"])
	assert.Equal(t, "verify", metrics["log_ownership"])
	assert.NotContains(t, metrics, "mqtt")
}

func TestNewApp_RequiresAuthForTrips(t *testing.T) {
	a := newApp(testConfig(), db.NewMemoryStore(), nil, nil)
	t.Cleanup(a.ai.Close)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest("POST", "/trips/start", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
