package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/cycling"
	"github.com/EmpaEconversion/aurora-tomato/pkg/aurora/ketchup"
)

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Ketchup: KetchupConfig{
			Executable:     getEnvOrDefault("KETCHUP_EXECUTABLE", "ketchup"),
			Shell:          ketchup.ShellType(getEnvOrDefault("KETCHUP_SHELL", string(ketchup.ShellBash))),
			CommandTimeout: getDurationOrDefault("KETCHUP_COMMAND_TIMEOUT", 30*time.Second),
		},
		Monitor: MonitorConfig{
			PollInterval:      getDurationOrDefault("MONITOR_POLL_INTERVAL", 10*time.Minute),
			SnapshotFile:      getEnvOrDefault("MONITOR_SNAPSHOT_FILE", "snapshot.json"),
			CheckType:         cycling.CheckType(getEnvOrDefault("MONITOR_CHECK_TYPE", string(cycling.CheckDischargeCapacity))),
			Threshold:         getFloatOrDefault("MONITOR_THRESHOLD", 0.8),
			ConsecutiveCycles: getIntOrDefault("MONITOR_CONSECUTIVE_CYCLES", 2),
			KeepLast:          getIntOrDefault("MONITOR_KEEP_LAST", 10),
		},
		Archive: ArchiveConfig{
			Enabled:   getBoolOrDefault("ARCHIVE_ENABLED", false),
			Path:      getEnvOrDefault("ARCHIVE_PATH", "aurora.db"),
			Retention: getDurationOrDefault("ARCHIVE_RETENTION", 30*24*time.Hour),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled:     getBoolOrDefault("METRICS_ENABLED", true),
			MetricsPort:        getIntOrDefault("METRICS_PORT", 9090),
			HealthCheckEnabled: getBoolOrDefault("HEALTH_CHECK_ENABLED", true),
			HealthCheckPort:    getIntOrDefault("HEALTH_CHECK_PORT", 8080),
			LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return cfg, nil
}

// LoadFromFile reads a YAML configuration file, filling unset fields from
// the environment-variable defaults.
func LoadFromFile(path string) (*Config, error) {
	base, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %v", path, err)
	}

	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %v", path, err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"file", path,
		"shell", base.Ketchup.Shell,
		"pollInterval", base.Monitor.PollInterval,
		"checkType", base.Monitor.CheckType,
		"threshold", base.Monitor.Threshold,
		"archiveEnabled", base.Archive.Enabled)

	return base, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key, "value", strValue, "default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key, "value", strValue, "default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseBool(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key, "value", strValue, "default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) model.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := model.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key, "value", strValue, "default", defaultValue)
	}
	return model.Duration(defaultValue)
}
