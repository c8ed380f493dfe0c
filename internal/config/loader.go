package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	EnvPrefix     = "PRODE_"
	EnvConfigFile = "PRODE_CONFIG"
)

// listKeys are read from the environment as comma separated lists.
var listKeys = map[string]struct{}{ //nolint:gochecknoglobals // constant set
	"forces":    {},
	"provinces": {},
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PRODE_CONFIG is set
//  3. env (prefix PRODE_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PRODE_SYNC_QUEUE_SIZE -> sync_queue_size; PRODE_SCORING_MAE_WEIGHT ->
	// scoring.mae_weight; PRODE_METRICS_LABELS=env=prod,region=ar ->
	// metrics.labels. List values are comma separated.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if rest, ok := strings.CutPrefix(key, "scoring_"); ok {
			return "scoring." + rest, value
		}
		if rest, ok := strings.CutPrefix(key, "metrics_"); ok {
			switch rest {
			case "buckets":
				return "metrics.buckets", splitList(value)
			case "labels":
				return "metrics.labels", splitPairs(value)
			}
			return "metrics." + rest, value
		}
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Storage != StorageMemory && c.Storage != StorageSQLite:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	case c.Storage == StorageSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	case c.SyncEnabled && c.SyncOutput == "":
		return fmt.Errorf("%w: sync_output must not be empty", ErrInvalidConfig)
	}
	if c.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, c.Deadline); err != nil {
			return fmt.Errorf("%w: deadline: %w", ErrInvalidConfig, err)
		}
	}
	w := c.Scoring
	for name, v := range map[string]float64{
		"mae_weight":           w.MAE,
		"participation_weight": w.Participation,
		"margin_weight":        w.Margin,
		"top3_weight":          w.Top3,
		"exact_points":         w.ExactPoints,
		"partial_points":       w.PartialPoints,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: scoring.%s must be positive", ErrInvalidConfig, name)
		}
	}
	return c.Metrics.validate()
}

var metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedLabels are the variable labels of the exported collectors.
var reservedLabels = []string{ //nolint:gochecknoglobals // constant set
	"outcome", "reason", "endpoint", "method", "status_code", "component", "error_type",
}

func (m *Metrics) validate() error {
	if m.Namespace != "" && !metricName.MatchString(m.Namespace) {
		return fmt.Errorf("%w: metrics.namespace %q is not a valid metric name", ErrInvalidConfig, m.Namespace)
	}
	if m.Subsystem != "" && !metricName.MatchString(m.Subsystem) {
		return fmt.Errorf("%w: metrics.subsystem %q is not a valid metric name", ErrInvalidConfig, m.Subsystem)
	}
	for i := 1; i < len(m.Buckets); i++ {
		if m.Buckets[i] <= m.Buckets[i-1] {
			return fmt.Errorf("%w: metrics.buckets must be strictly increasing", ErrInvalidConfig)
		}
	}
	for name := range m.Labels {
		if !metricName.MatchString(name) || strings.HasPrefix(name, "__") || slices.Contains(reservedLabels, name) {
			return fmt.Errorf("%w: metrics.labels: invalid label name %q", ErrInvalidConfig, name)
		}
	}
	return nil
}

// splitPairs parses "k=v,k2=v2". Items without "=" are dropped.
func splitPairs(v string) map[string]any {
	out := make(map[string]any)
	for _, item := range splitList(v) {
		k, val, ok := strings.Cut(item, "=")
		if k = strings.TrimSpace(k); ok && k != "" {
			out[k] = strings.TrimSpace(val)
		}
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
