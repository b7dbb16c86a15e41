// Package config loads the node-agent's on-disk configuration from a
// YAML file, the same way the rest of the daemon's manifests are loaded.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RecoverPolicy controls how the agent's recovery protocol treats
// executors still running from a prior incarnation.
type RecoverPolicy struct {
	// Reconnect, when true, waits up to ExecutorReregisterTimeout for a
	// checkpointed executor to re-register before shutting it down.
	// When false, every recovered executor is shut down immediately.
	Reconnect bool `yaml:"reconnect"`
	// Cleanup is parsed from the config file but the agent does not
	// consult it: whether recovered executors are shut down depends on
	// Reconnect alone, and no sandbox directories are removed because
	// of it.
	Cleanup bool `yaml:"cleanup"`
}

// Config is the agent's full runtime configuration.
type Config struct {
	WorkDir     string `yaml:"work_dir"`
	LauncherDir string `yaml:"launcher_dir"`

	ExecutorShutdownGracePeriod time.Duration `yaml:"executor_shutdown_grace_period"`
	ExecutorReregisterTimeout   time.Duration `yaml:"executor_reregister_timeout"`

	GCDelay           time.Duration `yaml:"gc_delay"`
	DiskWatchInterval time.Duration `yaml:"disk_watch_interval"`

	Recover RecoverPolicy `yaml:"recover"`

	// Strict, when true, makes recovery errors fatal. When false they
	// are logged and recovery continues; a failed isolator re-attach
	// does not by itself shut any executor down.
	Strict bool `yaml:"strict"`

	MaxCompletedExecutorsPerFramework int `yaml:"max_completed_executors_per_framework"`
	MaxCompletedTasksPerExecutor      int `yaml:"max_completed_tasks_per_executor"`

	MasterAddr string `yaml:"master_addr"`
	CertDir    string `yaml:"cert_dir"`

	// SoftStatusUpdateCapPerFramework is the status-update manager's
	// configurable backpressure warning threshold.
	SoftStatusUpdateCapPerFramework int `yaml:"soft_status_update_cap_per_framework"`

	// MetricsInterval controls how often the agent polls the registry
	// and status manager to refresh occupancy gauges.
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	// MetricsAddr is the listen address for the /metrics, /healthz,
	// /readyz, and /livez HTTP endpoints. Empty disables the server.
	MetricsAddr string `yaml:"metrics_addr"`

	// CertCheckInterval controls how often the agent polls its node
	// certificate for rotation eligibility.
	CertCheckInterval time.Duration `yaml:"cert_check_interval"`
}

// Defaults returns the configuration the agent falls back to when a
// value is left unset in the YAML file, so a minimal config only needs
// to override what actually differs.
func Defaults() Config {
	return Config{
		WorkDir:                           "/var/lib/warren-agent",
		LauncherDir:                       "/usr/libexec/warren-agent",
		ExecutorShutdownGracePeriod:       5 * time.Second,
		ExecutorReregisterTimeout:         2 * time.Minute,
		GCDelay:                           time.Hour,
		DiskWatchInterval:                 time.Minute,
		Recover:                           RecoverPolicy{Reconnect: true, Cleanup: false},
		Strict:                            false,
		MaxCompletedExecutorsPerFramework: 150,
		MaxCompletedTasksPerExecutor:      1000,
		CertDir:                           "",
		SoftStatusUpdateCapPerFramework:   1000,
		MetricsInterval:                   15 * time.Second,
		MetricsAddr:                       ":9090",
		CertCheckInterval:                 time.Hour,
	}
}

// Load reads and parses a YAML configuration file, starting from
// Defaults and overlaying whatever the file sets.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the agent cannot safely start with.
func (c Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("config: work_dir must not be empty")
	}
	if c.LauncherDir == "" {
		return fmt.Errorf("config: launcher_dir must not be empty")
	}
	if c.MasterAddr == "" {
		return fmt.Errorf("config: master_addr must not be empty")
	}
	if c.ExecutorShutdownGracePeriod <= 0 {
		return fmt.Errorf("config: executor_shutdown_grace_period must be positive")
	}
	if c.ExecutorReregisterTimeout <= 0 {
		return fmt.Errorf("config: executor_reregister_timeout must be positive")
	}
	if c.MaxCompletedExecutorsPerFramework <= 0 {
		return fmt.Errorf("config: max_completed_executors_per_framework must be positive")
	}
	if c.MaxCompletedTasksPerExecutor <= 0 {
		return fmt.Errorf("config: max_completed_tasks_per_executor must be positive")
	}
	return nil
}
