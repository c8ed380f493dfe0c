package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/prode/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"PRODE_CONFIG", "PRODE_ADDR", "PRODE_STORAGE", "PRODE_SQLITE_PATH",
	"PRODE_DEADLINE", "PRODE_ADMIN_TOKEN", "PRODE_SYNC_ENABLED",
	"PRODE_SYNC_QUEUE_SIZE", "PRODE_SYNC_WORKER_COUNT", "PRODE_LOG_FORMAT",
	"PRODE_FORCES", "PRODE_SCORING_MAE_WEIGHT", "PRODE_SHUTDOWN_TIMEOUT",
	"PRODE_METRICS_NAMESPACE", "PRODE_METRICS_SUBSYSTEM", "PRODE_METRICS_BUCKETS",
	"PRODE_METRICS_LABELS",
}

func clearConfigEnvVars() {
	for _, envVar := range configEnvVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prode.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PRODE_ADDR", ":8080")
			_ = os.Setenv("PRODE_STORAGE", "memory")
			_ = os.Setenv("PRODE_SYNC_ENABLED", "false")
			_ = os.Setenv("PRODE_SYNC_WORKER_COUNT", "4")
			_ = os.Setenv("PRODE_ADMIN_TOKEN", "s3cret")
			_ = os.Setenv("PRODE_FORCES", "LLA, FIT ,UxP")
			_ = os.Setenv("PRODE_SCORING_MAE_WEIGHT", "0.75")
			_ = os.Setenv("PRODE_SHUTDOWN_TIMEOUT", "3s")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Storage, convey.ShouldEqual, config.StorageMemory)
				convey.So(cfg.SyncEnabled, convey.ShouldBeFalse)
				convey.So(cfg.SyncWorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.AdminToken, convey.ShouldEqual, "s3cret")
				convey.So(cfg.Forces, convey.ShouldResemble, []string{"LLA", "FIT", "UxP"})
				convey.So(cfg.Scoring.MAE, convey.ShouldEqual, 0.75)
				convey.So(cfg.Scoring.Participation, convey.ShouldEqual, 0.25)
				convey.So(cfg.ShutdownTimeout, convey.ShouldEqual, 3*time.Second)
			})
		})

		convey.Convey("When metrics settings come from the environment", func() {
			_ = os.Setenv("PRODE_METRICS_NAMESPACE", "elecciones")
			_ = os.Setenv("PRODE_METRICS_SUBSYSTEM", "api")
			_ = os.Setenv("PRODE_METRICS_BUCKETS", "0.01, 0.1,1")
			_ = os.Setenv("PRODE_METRICS_LABELS", "env=prod, region=ar")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they shape the metrics config", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Metrics.Namespace, convey.ShouldEqual, "elecciones")
				convey.So(cfg.Metrics.Subsystem, convey.ShouldEqual, "api")
				convey.So(cfg.Metrics.Buckets, convey.ShouldResemble, []float64{0.01, 0.1, 1})
				convey.So(cfg.Metrics.Labels, convey.ShouldResemble, map[string]string{"env": "prod", "region": "ar"})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := createTempConfigFile(t, `
addr: ":9090"
storage: sqlite
sqlite_path: /tmp/prode-test.db
deadline: "2025-10-26T08:00:00-03:00"
forces: [LLA, Fuerza Patria]
provinces: [CABA, Salta]
forces_by_province:
  CABA: [LLA]
scoring:
  top3_weight: 1
`)
			_ = os.Setenv("PRODE_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/prode-test.db")
				convey.So(cfg.Forces, convey.ShouldResemble, []string{"LLA", "Fuerza Patria"})
				convey.So(cfg.Provinces, convey.ShouldResemble, []string{"CABA", "Salta"})
				convey.So(cfg.ForcesByProvince["CABA"], convey.ShouldResemble, []string{"LLA"})
				convey.So(cfg.Scoring.Top3, convey.ShouldEqual, 1)
				convey.So(cfg.Scoring.MAE, convey.ShouldEqual, 0.5)
				_, ok := cfg.DeadlineTime()
				convey.So(ok, convey.ShouldBeTrue)
			})

			convey.Convey("And env vars are also set", func() {
				_ = os.Setenv("PRODE_ADDR", ":7070")
				cfg, err := config.Load(ctx)

				convey.Convey("Then env vars take precedence over the file", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
					convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/prode-test.db")
				})
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("PRODE_CONFIG", "/non/existent/file.yaml")
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a setting is invalid", func() {
			cases := map[string][2]string{
				"an empty address":      {"PRODE_ADDR", ""},
				"an unknown storage":    {"PRODE_STORAGE", "postgres"},
				"a malformed deadline":  {"PRODE_DEADLINE", "tomorrow"},
				"an unknown log format": {"PRODE_LOG_FORMAT", "xml"},
				"a negative weight":     {"PRODE_SCORING_MAE_WEIGHT", "-1"},
				"a zero weight":         {"PRODE_SCORING_MAE_WEIGHT", "0"},
				"a bad namespace":       {"PRODE_METRICS_NAMESPACE", "pro-de"},
				"unsorted buckets":      {"PRODE_METRICS_BUCKETS", "1,0.5"},
				"a reserved label":      {"PRODE_METRICS_LABELS", "outcome=x"},
			}
			for name, kv := range cases {
				convey.Convey("With "+name, func() {
					_ = os.Setenv(kv[0], kv[1])
					_, err := config.Load(ctx)

					convey.Convey("Then an invalid config error is returned", func() {
						convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					})
				})
			}
		})

		convey.Convey("When a number cannot be parsed", func() {
			_ = os.Setenv("PRODE_SYNC_QUEUE_SIZE", "lots")
			_, err := config.Load(ctx)

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})
	})
}
