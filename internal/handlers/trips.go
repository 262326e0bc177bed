package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/detectlog"
	"github.com/ukydev/drowsiness-monitor/internal/models"
	"github.com/ukydev/drowsiness-monitor/internal/trip"
)

// TripHandler serves the trip lifecycle and manual detection logging.
type TripHandler struct {
	trips  *trip.Manager
	writer *detectlog.Writer
}

// NewTripHandler creates a new trip handler
func NewTripHandler(trips *trip.Manager, writer *detectlog.Writer) *TripHandler {
	return &TripHandler{trips: trips, writer: writer}
}

// Start begins a trip, or returns the one already running.
func (h *TripHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	t, err := h.trips.Start(r.Context(), claims.UserID)
	if err != nil {
		log.WithError(err).WithField("user_id", claims.UserID).Error("Failed to start trip")
		http.Error(w, "Failed to start trip", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// End finishes the running trip.
func (h *TripHandler) End(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	t, err := h.trips.End(r.Context(), claims.UserID)
	if errors.Is(err, trip.ErrNoActiveTrip) {
		http.Error(w, "No active trip found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.WithError(err).WithField("user_id", claims.UserID).Error("Failed to end trip")
		http.Error(w, "Failed to end trip", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Active returns the running trip.
func (h *TripHandler) Active(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	t, err := h.trips.Active(r.Context(), claims.UserID)
	if err != nil {
		log.WithError(err).Error("Failed to load active trip")
		http.Error(w, "Failed to load active trip", http.StatusInternalServerError)
		return
	}
	if t == nil {
		http.Error(w, "No active trip found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func readLogRequest(w http.ResponseWriter, r *http.Request) (models.DetectionLogCreate, bool) {
	var req models.DetectionLogCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.EventType) == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// CreateLog records a detection against the trip named in the path.
func (h *TripHandler) CreateLog(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	tripID, ok := pathID(w, r, "trip_id")
	if !ok {
		return
	}
	req, ok := readLogRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.writer.WriteOwned(r.Context(), claims.UserID, tripID, detectlog.FromRequest(req))
	if err != nil {
		writeLogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// CreateDetection records a detection against the caller's running trip.
func (h *TripHandler) CreateDetection(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	req, ok := readLogRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.writer.WriteActive(r.Context(), claims.UserID, detectlog.FromRequest(req))
	if errors.Is(err, trip.ErrNoActiveTrip) {
		http.Error(w, "No active trip found to log detection", http.StatusNotFound)
		return
	}
	if err != nil {
		writeLogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeLogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, detectlog.ErrTripNotFound):
		http.Error(w, "Trip not found", http.StatusNotFound)
	case errors.Is(err, detectlog.ErrTripNotOwned):
		http.Error(w, "Not authorized to log to this trip", http.StatusForbidden)
	case errors.Is(err, detectlog.ErrTripNotActive):
		http.Error(w, "Trip is not active", http.StatusConflict)
	default:
		log.WithError(err).Error("Failed to write detection log")
		http.Error(w, "Failed to write detection log", http.StatusInternalServerError)
	}
}
