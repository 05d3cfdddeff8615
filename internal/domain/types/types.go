// Package types contains common types used across the application
package types

import "time"

// LeaderboardRow is one ranked user.
type LeaderboardRow struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"user_id"`
	Accuracy float64 `json:"accuracy"`
	Tasks    int     `json:"tasks"`
}

// UserTotals is the per-user task_result tally a leaderboard is built from.
type UserTotals struct {
	UserID  string
	Correct int64
	Tasks   int64
}

// Receipt summarizes what happened to an ingest batch.
type Receipt struct {
	BatchID    string `json:"batch_id"`
	Received   int    `json:"received"`
	Stored     int    `json:"stored"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// Rejection is a stored record of an event that failed validation.
type Rejection struct {
	BatchID    string    `json:"batch_id"`
	Index      int       `json:"index"`
	EventID    string    `json:"event_id,omitempty"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Leaderboard is a ranked page together with the bounds it was computed with.
type Leaderboard struct {
	Rows     []LeaderboardRow `json:"rows"`
	Count    int              `json:"count"`
	Limit    int              `json:"limit"`
	MinTasks int              `json:"min_tasks"`
}
