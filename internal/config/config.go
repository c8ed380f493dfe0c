// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - Errors returned by Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"time"

	"github.com/okian/prode/internal/domain/scoring"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server and workers.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Storage selects the persistence backend: memory or sqlite.
	Storage string `koanf:"storage"`

	// SQLitePath is the database file used when Storage is sqlite.
	SQLitePath string `koanf:"sqlite_path"`

	// Deadline closes submissions, RFC3339. Empty keeps them open.
	Deadline string `koanf:"deadline"`

	// AdminToken is the bearer key for /admin routes. Empty disables them.
	AdminToken string `koanf:"admin_token"`

	// SyncEnabled turns on mirroring of accepted predictions to SyncOutput.
	SyncEnabled bool `koanf:"sync_enabled"`

	// SyncQueueSize bounds the in-memory sync queue.
	SyncQueueSize int `koanf:"sync_queue_size"`

	// SyncWorkerCount sets the number of sync workers.
	SyncWorkerCount int `koanf:"sync_worker_count"`

	// SyncOutput is the NDJSON file receiving synced predictions.
	SyncOutput string `koanf:"sync_output"`

	// DedupeSize sets how many synced revisions are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// Forces and Provinces are the accepted identifiers. ForcesByProvince
	// narrows the forces accepted in a province.
	Forces           []string            `koanf:"forces"`
	Provinces        []string            `koanf:"provinces"`
	ForcesByProvince map[string][]string `koanf:"forces_by_province"`

	// Scoring holds the score weights.
	Scoring scoring.Weights `koanf:"scoring"`

	// Metrics shapes the exported Prometheus collectors.
	Metrics Metrics `koanf:"metrics"`
}

// Metrics configures collector names and labels. Empty values keep the
// collector defaults.
type Metrics struct {
	Namespace string            `koanf:"namespace"`
	Subsystem string            `koanf:"subsystem"`
	Buckets   []float64         `koanf:"buckets"`
	Labels    map[string]string `koanf:"labels"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":8000",
		ShutdownTimeout: 10 * time.Second,
		Storage:         StorageSQLite,
		SQLitePath:      "prode.db",
		SyncEnabled:     true,
		SyncQueueSize:   10_000,
		SyncWorkerCount: 2,
		SyncOutput:      "sync/predictions.ndjson",
		DedupeSize:      50_000,
		Forces: []string{
			"LLA", "Fuerza Patria", "Provincias Unidas", "FIT", "UxP", "JxC", "Otros",
		},
		Provinces: []string{
			"Buenos Aires", "CABA", "Catamarca", "Chaco", "Chubut", "Córdoba",
			"Corrientes", "Entre Ríos", "Formosa", "Jujuy", "La Pampa", "La Rioja",
			"Mendoza", "Misiones", "Neuquén", "Río Negro", "Salta", "San Juan",
			"San Luis", "Santa Cruz", "Santa Fe", "Santiago del Estero",
			"Tierra del Fuego", "Tucumán",
		},
		Scoring: scoring.DefaultWeights(),
		Metrics: Metrics{Namespace: "prode"},
	}
}

// DeadlineTime returns the parsed submission deadline and whether one is set.
// Load has already validated the format.
func (c *Config) DeadlineTime() (time.Time, bool) {
	if c.Deadline == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.Deadline)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
