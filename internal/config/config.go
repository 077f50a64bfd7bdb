// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the CLI needs to run a pass.
type Config struct {
	// SourceDSN is the Postgres DSN of the operational database. Required.
	SourceDSN string

	// WarehouseKind selects the analytical backend ("sqlite", "postgres",
	// "mssql"). Defaults to "sqlite".
	WarehouseKind string

	// WarehouseDSN is the analytical backend DSN. Defaults to "analytics.db"
	// (a local SQLite file).
	WarehouseDSN string

	// MetricsBackend selects a metrics sink ("datadog" or empty for none).
	MetricsBackend string

	// MetricsTags are extra comma-separated tags passed to the metrics backend.
	MetricsTags string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first if present; a missing file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		SourceDSN:      strings.TrimSpace(os.Getenv("SOURCE_DSN")),
		WarehouseKind:  strings.TrimSpace(os.Getenv("WAREHOUSE_KIND")),
		WarehouseDSN:   strings.TrimSpace(os.Getenv("WAREHOUSE_DSN")),
		MetricsBackend: strings.TrimSpace(os.Getenv("METRICS_BACKEND")),
		MetricsTags:    strings.TrimSpace(os.Getenv("METRICS_TAGS")),
	}

	if cfg.SourceDSN == "" {
		return Config{}, fmt.Errorf("config: SOURCE_DSN is required")
	}
	if cfg.WarehouseKind == "" {
		cfg.WarehouseKind = "sqlite"
	}
	if cfg.WarehouseDSN == "" {
		cfg.WarehouseDSN = "analytics.db"
	}
	return cfg, nil
}
