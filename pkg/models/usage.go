package models

import "time"

// UsageRecord is one row of the usage ledger, written once per successful call.
type UsageRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
	LatencyMs int64     `json:"latency_ms"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// ModelUsage aggregates ledger rows for a single model.
type ModelUsage struct {
	Requests     int     `json:"requests"`
	Tokens       int64   `json:"tokens"`
	Cost         float64 `json:"cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	UniqueUsers  int     `json:"unique_users"`
}

// UsageReport is the windowed usage summary returned to callers.
type UsageReport struct {
	PeriodDays int                   `json:"period_days"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	ModelStats map[string]ModelUsage `json:"model_stats"`
}

// UserTotals is the spend of a single user since a point in time.
type UserTotals struct {
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// DailyCost is the total cost booked on a single UTC day.
type DailyCost struct {
	Day  string  `json:"day"`
	Cost float64 `json:"cost"`
}
