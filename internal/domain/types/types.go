// Package types contains common types used across the application
package types

import "time"

// Breakdown reports the components behind a score, rounded to 2 decimals.
type Breakdown struct {
	MAENational        float64 `json:"mae_national"`
	ParticipationError float64 `json:"participation_error"`
	MarginError        float64 `json:"margin_error"`
	Top3Points         float64 `json:"top3_points"`
}

// Entry represents a ranking row
type Entry struct {
	Position    int       `json:"position"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Score       float64   `json:"score"`
	Breakdown   Breakdown `json:"breakdown"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Players lists who has filled in a prediction.
type Players struct {
	Count          int      `json:"count"`
	CountCompleted int      `json:"count_completed"`
	CountTotal     int      `json:"count_total"`
	Usernames      []string `json:"usernames"`
}

// Metadata describes the catalog and the submission window.
type Metadata struct {
	Forces           []string            `json:"forces"`
	Provinces        []string            `json:"provinces"`
	ForcesByProvince map[string][]string `json:"forces_by_province"`
	Deadline         *time.Time          `json:"deadline"`
	Open             bool                `json:"open"`
}

// ScoreSummary describes the distribution of ranked scores.
type ScoreSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Overview is the admin summary of stored predictions.
type Overview struct {
	Predictions int          `json:"predictions"`
	Completed   int          `json:"completed"`
	SyncPending int          `json:"sync_pending"`
	Unreadable  int          `json:"unreadable"`
	Published   bool         `json:"published"`
	PublishedAt *time.Time   `json:"published_at"`
	Open        bool         `json:"open"`
	Scores      ScoreSummary `json:"scores"`
}
