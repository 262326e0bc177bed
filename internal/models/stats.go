package models

import "time"

// UserStatistics is the overall driving summary for a user.
type UserStatistics struct {
	TotalTrips           int            `json:"total_trips"`
	TotalDetections      int            `json:"total_detections"`
	TotalDurationMinutes int            `json:"total_duration_minutes"`
	DetectionBreakdown   map[string]int `json:"detection_breakdown"`
	RecentTrips          []TripSummary  `json:"recent_trips"`
}

// DrivingStats reports hours driven per calendar period.
type DrivingStats struct {
	TodayHours float64 `json:"today_hours"`
	WeekHours  float64 `json:"week_hours"`
	MonthHours float64 `json:"month_hours"`
	YearHours  float64 `json:"year_hours"`
}

// CalendarCheckin lists the days on which the user drove.
type CalendarCheckin struct {
	ActiveDays []time.Time `json:"active_days"`
}
