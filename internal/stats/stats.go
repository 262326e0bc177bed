// Package stats aggregates trips and detection logs into per-user reports.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

var (
	ErrTripNotFound = errors.New("trip not found")
	ErrForbidden    = errors.New("not authorized to view this trip")
)

// RecentTripsLimit is how many trips the user summary lists.
const RecentTripsLimit = 10

// Service builds statistics from the trip and log stores.
type Service struct {
	trips db.TripStore
	logs  db.DetectionLogStore
	now   func() time.Time
	loc   *time.Location
}

// NewService creates a Service that buckets days in UTC.
func NewService(trips db.TripStore, logs db.DetectionLogStore) *Service {
	return &Service{trips: trips, logs: logs, now: time.Now, loc: time.UTC}
}

// WithClock overrides the clock and the time zone used for calendar periods.
func (s *Service) WithClock(now func() time.Time, loc *time.Location) *Service {
	s.now = now
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Summarize attaches the detection count and duration to a trip.
func (s *Service) Summarize(ctx context.Context, trip models.Trip) (models.TripSummary, error) {
	n, err := s.logs.CountLogsByTrip(ctx, trip.ID)
	if err != nil {
		return models.TripSummary{}, fmt.Errorf("count trip detections: %w", err)
	}
	return models.TripSummary{Trip: trip, TotalDetections: n, DurationMinutes: trip.DurationMinutes()}, nil
}

// UserTrips returns summaries of the user's most recent trips, newest first.
func (s *Service) UserTrips(ctx context.Context, userID int64, limit int) ([]models.TripSummary, error) {
	trips, err := s.trips.FindTripsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	return s.summarizeAll(ctx, trips)
}

func (s *Service) summarizeAll(ctx context.Context, trips []models.Trip) ([]models.TripSummary, error) {
	out := make([]models.TripSummary, 0, len(trips))
	for _, t := range trips {
		summary, err := s.Summarize(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// TripDetail returns one of the user's trips with all of its logs in timestamp order.
func (s *Service) TripDetail(ctx context.Context, userID, tripID int64) (models.TripWithLogs, error) {
	trip, err := s.trips.FindTripByID(ctx, tripID)
	if errors.Is(err, db.ErrNotFound) {
		return models.TripWithLogs{}, ErrTripNotFound
	}
	if err != nil {
		return models.TripWithLogs{}, fmt.Errorf("find trip: %w", err)
	}
	if trip.UserID != userID {
		return models.TripWithLogs{}, ErrForbidden
	}

	logs, err := s.logs.FindLogsByTrip(ctx, tripID)
	if err != nil {
		return models.TripWithLogs{}, fmt.Errorf("trip logs: %w", err)
	}
	return models.TripWithLogs{
		TripSummary: models.TripSummary{
			Trip:            *trip,
			TotalDetections: len(logs),
			DurationMinutes: trip.DurationMinutes(),
		},
		Logs: logs,
	}, nil
}

// UserSummary reports totals over every trip of the user.
func (s *Service) UserSummary(ctx context.Context, userID int64) (models.UserStatistics, error) {
	trips, err := s.trips.FindTripsByUser(ctx, userID, 0)
	if err != nil {
		return models.UserStatistics{}, fmt.Errorf("list trips: %w", err)
	}

	totalMinutes := 0
	for _, t := range trips {
		if d := t.DurationMinutes(); d != nil {
			totalMinutes += *d
		}
	}

	total, err := s.logs.CountLogsByUser(ctx, userID)
	if err != nil {
		return models.UserStatistics{}, fmt.Errorf("count detections: %w", err)
	}
	breakdown, err := s.logs.DetectionBreakdown(ctx, userID)
	if err != nil {
		return models.UserStatistics{}, fmt.Errorf("detection breakdown: %w", err)
	}

	recent := trips
	if len(recent) > RecentTripsLimit {
		recent = recent[:RecentTripsLimit]
	}
	summaries, err := s.summarizeAll(ctx, recent)
	if err != nil {
		return models.UserStatistics{}, err
	}

	return models.UserStatistics{
		TotalTrips:           len(trips),
		TotalDetections:      total,
		TotalDurationMinutes: totalMinutes,
		DetectionBreakdown:   breakdown,
		RecentTrips:          summaries,
	}, nil
}

// DrivingHours sums driving time for trips starting today, this week (from
// Monday), this month and this year. Ongoing trips count up to now.
func (s *Service) DrivingHours(ctx context.Context, userID int64) (models.DrivingStats, error) {
	trips, err := s.trips.FindTripsByUser(ctx, userID, 0)
	if err != nil {
		return models.DrivingStats{}, fmt.Errorf("list trips: %w", err)
	}

	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	week := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	year := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, s.loc)

	var todayDur, weekDur, monthDur, yearDur time.Duration
	for _, t := range trips {
		end := now
		if t.EndTime != nil {
			end = *t.EndTime
		}
		d := end.Sub(t.StartTime)
		if d < 0 {
			continue
		}
		start := t.StartTime.In(s.loc)
		if !start.Before(today) {
			todayDur += d
		}
		if !start.Before(week) {
			weekDur += d
		}
		if !start.Before(month) {
			monthDur += d
		}
		if !start.Before(year) {
			yearDur += d
		}
	}

	return models.DrivingStats{
		TodayHours: hours(todayDur),
		WeekHours:  hours(weekDur),
		MonthHours: hours(monthDur),
		YearHours:  hours(yearDur),
	}, nil
}

func hours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}

// Calendar lists the distinct days, oldest first, on which the user started a trip.
func (s *Service) Calendar(ctx context.Context, userID int64) (models.CalendarCheckin, error) {
	trips, err := s.trips.FindTripsByUser(ctx, userID, 0)
	if err != nil {
		return models.CalendarCheckin{}, fmt.Errorf("list trips: %w", err)
	}

	seen := make(map[time.Time]struct{})
	days := make([]time.Time, 0)
	for _, t := range trips {
		st := t.StartTime.In(s.loc)
		day := time.Date(st.Year(), st.Month(), st.Day(), 0, 0, 0, 0, s.loc)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return models.CalendarCheckin{ActiveDays: days}, nil
}
