package handlers

import (
	"errors"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/stats"
)

const defaultTripsLimit = 10

// StatisticsHandler serves per-user driving reports.
type StatisticsHandler struct {
	stats *stats.Service
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(svc *stats.Service) *StatisticsHandler {
	return &StatisticsHandler{stats: svc}
}

// Trips lists the caller's recent trips. ?limit= defaults to 10.
func (h *StatisticsHandler) Trips(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit := defaultTripsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trips, err := h.stats.UserTrips(r.Context(), claims.UserID, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

// TripDetail returns one trip with its logs.
func (h *StatisticsHandler) TripDetail(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	tripID, ok := pathID(w, r, "trip_id")
	if !ok {
		return
	}

	detail, err := h.stats.TripDetail(r.Context(), claims.UserID, tripID)
	switch {
	case errors.Is(err, stats.ErrTripNotFound):
		http.Error(w, "Trip not found", http.StatusNotFound)
	case errors.Is(err, stats.ErrForbidden):
		http.Error(w, "Not authorized to view this trip", http.StatusForbidden)
	case err != nil:
		h.fail(w, err)
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

// Summary returns the caller's overall statistics.
func (h *StatisticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	summary, err := h.stats.UserSummary(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DrivingHours returns hours driven today, this week, this month and this year.
func (h *StatisticsHandler) DrivingHours(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	hours, err := h.stats.DrivingHours(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hours)
}

// Calendar returns the days on which the caller drove.
func (h *StatisticsHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	calendar, err := h.stats.Calendar(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calendar)
}

func (h *StatisticsHandler) fail(w http.ResponseWriter, err error) {
	log.WithError(err).Error("Failed to build statistics")
	http.Error(w, "Failed to build statistics", http.StatusInternalServerError)
}
