// Package config holds the daemon configuration: scheduler access,
// monitoring defaults, the measurement archive and observability knobs.
package config

import (
	"fmt"
	"time"

	"github.com/prometheus/common/model"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/cycling"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/ketchup"
)

// Config is the root configuration.
type Config struct {
	Ketchup       KetchupConfig       `yaml:"ketchup"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// KetchupConfig describes how to reach the instrument scheduler.
type KetchupConfig struct {
	// Executable is the ketchup binary name or path.
	Executable string `yaml:"executable"`
	// Shell is the shell submission scripts run under, bash or powershell.
	Shell ketchup.ShellType `yaml:"shell"`
	// CommandTimeout bounds one scheduler command invocation.
	CommandTimeout model.Duration `yaml:"commandTimeout"`
}

// MonitorConfig carries the polling defaults for job monitoring.
type MonitorConfig struct {
	// PollInterval is the time between snapshot evaluations per job.
	PollInterval model.Duration `yaml:"pollInterval"`
	// SnapshotFile is the snapshot filename inside a job's working
	// directory.
	SnapshotFile string `yaml:"snapshotFile"`

	// CheckType selects charge or discharge capacity.
	CheckType cycling.CheckType `yaml:"checkType"`
	// Threshold is the capacity retention fraction below which a cycle
	// counts as degraded.
	Threshold float64 `yaml:"threshold"`
	// ConsecutiveCycles is the degraded run length that triggers
	// termination.
	ConsecutiveCycles int `yaml:"consecutiveCycles"`
	// KeepLast bounds the retained series per job.
	KeepLast int `yaml:"keepLast"`
}

// ArchiveConfig configures the local SQLite measurement archive.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// Retention is how long poll rows are kept before cleanup.
	Retention model.Duration `yaml:"retention"`
}

// ObservabilityConfig configures metrics and health endpoints.
type ObservabilityConfig struct {
	MetricsEnabled     bool   `yaml:"metricsEnabled"`
	MetricsPort        int    `yaml:"metricsPort"`
	HealthCheckEnabled bool   `yaml:"healthCheckEnabled"`
	HealthCheckPort    int    `yaml:"healthCheckPort"`
	LogLevel           string `yaml:"logLevel"`
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if c.Ketchup.Executable == "" {
		return fmt.Errorf("ketchup executable is required")
	}
	if !c.Ketchup.Shell.Valid() {
		return fmt.Errorf("ketchup shell must be bash or powershell, got %q", c.Ketchup.Shell)
	}
	if time.Duration(c.Ketchup.CommandTimeout) <= 0 {
		return fmt.Errorf("ketchup command timeout must be positive")
	}

	if time.Duration(c.Monitor.PollInterval) <= 0 {
		return fmt.Errorf("monitor poll interval must be positive")
	}
	if c.Monitor.SnapshotFile == "" {
		return fmt.Errorf("monitor snapshot file is required")
	}
	switch c.Monitor.CheckType {
	case cycling.CheckDischargeCapacity, cycling.CheckChargeCapacity:
	default:
		return fmt.Errorf("monitor check type %q not supported", c.Monitor.CheckType)
	}
	if c.Monitor.Threshold <= 0 || c.Monitor.Threshold > 1 {
		return fmt.Errorf("monitor threshold %v outside (0, 1]", c.Monitor.Threshold)
	}
	if c.Monitor.ConsecutiveCycles < 1 {
		return fmt.Errorf("monitor consecutive cycles must be at least 1")
	}
	if c.Monitor.KeepLast < c.Monitor.ConsecutiveCycles {
		return fmt.Errorf("monitor keep last (%d) must cover the consecutive run length (%d)",
			c.Monitor.KeepLast, c.Monitor.ConsecutiveCycles)
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("archive path is required when the archive is enabled")
		}
		if time.Duration(c.Archive.Retention) <= 0 {
			return fmt.Errorf("archive retention must be positive")
		}
	}

	if c.Observability.MetricsEnabled && !validPort(c.Observability.MetricsPort) {
		return fmt.Errorf("invalid metrics port %d", c.Observability.MetricsPort)
	}
	if c.Observability.HealthCheckEnabled && !validPort(c.Observability.HealthCheckPort) {
		return fmt.Errorf("invalid health check port %d", c.Observability.HealthCheckPort)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
