package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// JobURLEnv is the variable the default executor command passes the
// coordinator URL in.
const JobURLEnv = "GOJOB_JOB_URL"

// WorkerConfig contains all configuration for the worker service.
type WorkerConfig struct {
	Worker      WorkerSettings        `mapstructure:"worker"`
	Coordinator CoordinatorConnConfig `mapstructure:"coordinator"`
	Tracing     TracingConfig         `mapstructure:"tracing"`
	Logging     LoggingConfig         `mapstructure:"logging"`
}

// WorkerSettings contains executor-local settings.
type WorkerSettings struct {
	WorkDir           string        `mapstructure:"work_dir"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// CoordinatorConnConfig contains coordinator connection configuration.
type CoordinatorConnConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HealthAttempts int           `mapstructure:"health_attempts"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

var workerFlags = map[string]string{
	"coordinator.url":           "url",
	"worker.work_dir":           "work-dir",
	"worker.heartbeat_interval": "heartbeat",
	"logging.level":             "log-level",
	"tracing.enabled":           "trace",
}

// LoadWorker loads the worker configuration from the given path.
// If configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with GOJOB_WORKER_ prefix override config file values.
// The coordinator URL may also come from GOJOB_JOB_URL.
func LoadWorker(configPath string, flags *pflag.FlagSet) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("worker.work_dir", "target/gojob")
	v.SetDefault("worker.heartbeat_interval", 15*time.Second)
	v.SetDefault("coordinator.url", "http://127.0.0.1:8080")
	v.SetDefault("coordinator.request_timeout", 10*time.Minute)
	v.SetDefault("coordinator.health_attempts", 60)
	v.SetDefault("coordinator.health_interval", time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")
	v.SetDefault("tracing.service_name", "gojob-worker")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := readConfig(v, configPath, "worker"); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("GOJOB_WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("coordinator.url", "GOJOB_WORKER_COORDINATOR_URL", JobURLEnv); err != nil {
		return nil, fmt.Errorf("error binding env: %w", err)
	}

	if err := bindFlags(v, flags, workerFlags); err != nil {
		return nil, err
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
