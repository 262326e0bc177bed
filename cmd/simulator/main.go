package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// Location is a GPS fix reported with detections.
type Location = models.Location

// Cities for realistic routes
var cities = []Location{
	{Lat: 13.7563, Lon: 100.5018},  // Bangkok
	{Lat: 18.7883, Lon: 98.9853},   // Chiang Mai
	{Lat: 51.5074, Lon: -0.1278},   // London
	{Lat: 40.7128, Lon: -74.0060},  // New York
	{Lat: 48.8566, Lon: 2.3522},    // Paris
	{Lat: 35.6762, Lon: 139.6503},  // Tokyo
	{Lat: 1.3521, Lon: 103.8198},   // Singapore
	{Lat: -33.8688, Lon: 151.2093}, // Sydney
}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func randomLocation() Location {
	base := cities[rand.Intn(len(cities))]
	return jitterLocation(base, 500) // start close to roads
}

// SimConfig holds the simulator settings read from the environment.
type SimConfig struct {
	APIURL    string
	Drivers   int
	Frames    int // frames per driver, 0 streams until interrupted
	Interval  time.Duration
	FramesDir string
	Password  string
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIURL:    os.Getenv("API_BASE_URL"),
		Drivers:   1,
		Frames:    50,
		Interval:  500 * time.Millisecond,
		FramesDir: os.Getenv("SIM_FRAMES_DIR"),
		Password:  os.Getenv("SIM_PASSWORD"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080"
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.Password == "" {
		cfg.Password = "simulator-pass"
	}
	if v := os.Getenv("SIM_DRIVERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Drivers = n
		}
	}
	if v := os.Getenv("SIM_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Frames = n
		}
	}
	if v := os.Getenv("SIM_TICK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Interval = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

// APIClient talks to the drowsiness monitor REST API on behalf of one driver.
type APIClient struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewAPIClient creates a client for the API at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// apiError is a non-2xx API response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func (c *APIClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", body, out)
}

// Register creates the driver account. An already registered email is not an error.
func (c *APIClient) Register(ctx context.Context, email, password, name string) error {
	err := c.postJSON(ctx, "/users/register", map[string]string{
		"email":     email,
		"password":  password,
		"full_name": name,
	}, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest && strings.Contains(apiErr.Body, "already registered") {
		return nil
	}
	return err
}

// Login obtains an access token and keeps it for later calls.
func (c *APIClient) Login(ctx context.Context, email, password string) error {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	form := url.Values{"username": {email}, "password": {password}}
	err := c.do(ctx, http.MethodPost, "/users/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), &resp)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if resp.AccessToken == "" {
		return errors.New("login returned no token")
	}
	c.token = resp.AccessToken
	return nil
}

// Trip is the subset of the trip resource the simulator reads.
type Trip struct {
	ID     int64  `json:"trip_id"`
	Status string `json:"status"`
}

// StartTrip starts (or resumes) the driver's trip.
func (c *APIClient) StartTrip(ctx context.Context) (Trip, error) {
	var t Trip
	err := c.postJSON(ctx, "/trips/start", nil, &t)
	return t, err
}

// EndTrip finishes the driver's trip.
func (c *APIClient) EndTrip(ctx context.Context) (Trip, error) {
	var t Trip
	err := c.postJSON(ctx, "/trips/end", nil, &t)
	return t, err
}

// LogDetection records an event with a GPS fix against the active trip.
func (c *APIClient) LogDetection(ctx context.Context, event string, confidence float64, at Location) error {
	gps := at.String()
	return c.postJSON(ctx, "/trips/detections", map[string]interface{}{
		"event_type":   event,
		"confidence":   confidence,
		"gps_location": gps,
	}, nil)
}

// StreamURL returns the websocket detection endpoint carrying the token.
func (c *APIClient) StreamURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ai/ws/detect?token=" + url.QueryEscape(c.token)
}

// loadFrames reads every jpeg/png/webp image in dir, sorted by name.
func loadFrames(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no image frames in %s", dir)
	}
	return frames, nil
}

// syntheticFrames renders n JPEG frames of a face-like blob that drifts and
// droops, enough to exercise the pipeline without a camera.
func syntheticFrames(n, size int) ([][]byte, error) {
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		bg := imaging.New(size, size, color.NRGBA{R: 30, G: 30, B: 40, A: 255})
		face := imaging.New(size/3, size/3+i%8, color.NRGBA{R: 220, G: 180, B: 150, A: 255})
		offset := image.Pt(size/3+(i%5)*2, size/4+(i%10)*3)
		img := imaging.Paste(bg, face, offset)
		img = imaging.Blur(img, 0.8)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		frames = append(frames, buf.Bytes())
	}
	return frames, nil
}

// frameReply is the server's answer to one frame.
type frameReply struct {
	Status     string `json:"status"`
	Error      string `json:"error"`
	Detections []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

// DriveStats summarizes one simulated trip.
type DriveStats struct {
	Frames   int
	Alerts   int
	Errors   int
	Statuses map[string]int
}

// streamFrames sends frames over ws every interval and reports alerting
// statuses through onAlert. limit <= 0 streams until ctx ends.
func streamFrames(ctx context.Context, ws *websocket.Conn, frames [][]byte, interval time.Duration, limit int,
	onAlert func(status string, confidence float64)) (DriveStats, error) {
	stats := DriveStats{Statuses: make(map[string]int)}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for i := 0; limit <= 0 || i < limit; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, frames[i%len(frames)]); err != nil {
			return stats, fmt.Errorf("failed to send frame: %w", err)
		}
		var reply frameReply
		if err := ws.ReadJSON(&reply); err != nil {
			return stats, fmt.Errorf("failed to read reply: %w", err)
		}
		stats.Frames++

		if reply.Error != "" {
			stats.Errors++
			log.WithField("error", reply.Error).Warn("Frame rejected")
		} else {
			stats.Statuses[reply.Status]++
			if reply.Status != "awake" && reply.Status != "" {
				stats.Alerts++
				if onAlert != nil {
					onAlert(reply.Status, topConfidence(reply, reply.Status))
				}
			}
		}

		select {
		case <-ctx.Done():
			return stats, nil
		case <-tick.C:
		}
	}
	return stats, nil
}

func topConfidence(reply frameReply, label string) float64 {
	best := 0.0
	for _, d := range reply.Detections {
		if d.Label == label && d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}

// simulateDriver runs one full trip: sign in, start, stream, end.
func simulateDriver(ctx context.Context, cfg SimConfig, n int, frames [][]byte) (DriveStats, error) {
	client := NewAPIClient(cfg.APIURL)
	email := fmt.Sprintf("sim-driver-%d@example.com", n)
	logger := log.WithField("driver", email)

	if err := client.Register(ctx, email, cfg.Password, fmt.Sprintf("Simulated Driver %d", n)); err != nil {
		return DriveStats{}, fmt.Errorf("register: %w", err)
	}
	if err := client.Login(ctx, email, cfg.Password); err != nil {
		return DriveStats{}, err
	}

	trip, err := client.StartTrip(ctx)
	if err != nil {
		return DriveStats{}, fmt.Errorf("start trip: %w", err)
	}
	logger = logger.WithField("trip_id", trip.ID)
	logger.Info("Trip started")

	// the trip is ended even when streaming is interrupted
	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.EndTrip(endCtx); err != nil {
			logger.WithError(err).Error("Failed to end trip")
			return
		}
		logger.Info("Trip ended")
	}()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, client.StreamURL(), nil)
	if err != nil {
		return DriveStats{}, fmt.Errorf("open stream: %w", err)
	}
	defer ws.Close()

	position := randomLocation()
	stats, err := streamFrames(ctx, ws, frames, cfg.Interval, cfg.Frames, func(status string, confidence float64) {
		position = jitterLocation(position, 200)
		if err := client.LogDetection(ctx, status, confidence, position); err != nil {
			logger.WithError(err).Warn("Failed to log detection")
		}
	})

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	logger.WithFields(log.Fields{
		"frames":   stats.Frames,
		"alerts":   stats.Alerts,
		"errors":   stats.Errors,
		"statuses": stats.Statuses,
	}).Info("Drive finished")
	return stats, err
}

func main() {
	cfg := loadSimConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var frames [][]byte
	var err error
	if cfg.FramesDir != "" {
		frames, err = loadFrames(cfg.FramesDir)
	} else {
		frames, err = syntheticFrames(20, 320)
	}
	if err != nil {
		log.WithError(err).Fatal("Failed to prepare frames")
	}

	log.WithFields(log.Fields{
		"drivers":  cfg.Drivers,
		"api_url":  cfg.APIURL,
		"interval": cfg.Interval,
		"frames":   len(frames),
	}).Info("Starting driver simulation")

	var wg sync.WaitGroup
	for i := 0; i < cfg.Drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := simulateDriver(ctx, cfg, n, frames); err != nil {
				log.WithError(err).WithField("driver", n).Error("Driver simulation failed")
			}
		}(i + 1)
	}
	wg.Wait()
	log.Info("Simulation completed")
}
