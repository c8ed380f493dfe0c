// Package seed fills a store with synthetic players for demos and load
// checks, and removes them again.
package seed

import "github.com/okian/prode/internal/domain/validation"

// Seeded players are recognised by these markers.
const (
	EmailDomain    = "@example.com"
	UsernamePrefix = "Jugador "
)

// Config holds the seeding parameters.
type Config struct {
	Players int                // Number of predictions to submit
	Publish bool               // Publish the generated official result
	Spread  float64            // Standard deviation of the prediction noise, in points
	Seed    uint64             // Random seed; equal seeds give equal figures
	Catalog validation.Catalog // Forces and provinces to draw from
}

// Report summarises a seeding run.
type Report struct {
	ResultID  string `json:"result_id"`
	Published bool   `json:"published"`
	Submitted int    `json:"submitted"`
	Rejected  int    `json:"rejected"`
}
