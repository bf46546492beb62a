package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// CoordinatorConfig contains all configuration for the coordinator service.
type CoordinatorConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Job     JobConfig     `mapstructure:"job"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Health  HealthConfig  `mapstructure:"health"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains the RPC server configuration. Host is the address
// executors use to reach the coordinator; Port 0 picks a free port.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// GRPCConfig contains the optional gRPC health server configuration.
// An empty Addr disables the server.
type GRPCConfig struct {
	Addr             string        `mapstructure:"addr"`
	EnableReflection bool          `mapstructure:"enable_reflection"`
	KeepaliveMinTime time.Duration `mapstructure:"keepalive_min_time"`
}

// JobConfig describes the job run and the shell policy driving it.
type JobConfig struct {
	SourceDir       string        `mapstructure:"source_dir"`
	WorkDir         string        `mapstructure:"work_dir"`
	ChunksFile      string        `mapstructure:"chunks_file"`
	StoreURL        string        `mapstructure:"store_url"`
	ExecutorCount   int           `mapstructure:"executor_count"`
	ExecutorCommand string        `mapstructure:"executor_command"`
	DockerImage     string        `mapstructure:"docker_image"`
	ExecutorOptions string        `mapstructure:"executor_options"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	StartupCommands  []CommandConfig `mapstructure:"startup_commands"`
	ShutdownCommands []CommandConfig `mapstructure:"shutdown_commands"`
	PreCommands      []CommandConfig `mapstructure:"pre_commands"`
	MainCommands     []CommandConfig `mapstructure:"main_commands"`
	PostCommands     []CommandConfig `mapstructure:"post_commands"`

	// Environment entries are KEY=VALUE pairs; a list keeps key case intact.
	Environment   []string `mapstructure:"environment"`
	EnvKeys       []string `mapstructure:"env_keys"`
	UploadDir     string   `mapstructure:"upload_dir"`
	ResultPattern string   `mapstructure:"result_pattern"`
}

// CommandConfig is a command template as written in the config file.
type CommandConfig struct {
	Command     string `mapstructure:"command"`
	WorkingPath string `mapstructure:"working_path"`
	Background  bool   `mapstructure:"background"`
}

// ArchiveConfig controls how the source directory is packed.
type ArchiveConfig struct {
	Exclude []string `mapstructure:"exclude"`
}

// HealthConfig contains executor heartbeat monitoring configuration.
// A zero StaleTimeout disables the monitor.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StaleTimeout  time.Duration `mapstructure:"stale_timeout"`
}

var coordinatorFlags = map[string]string{
	"server.host":          "host",
	"server.port":          "port",
	"grpc.addr":            "grpc-addr",
	"job.source_dir":       "source-dir",
	"job.work_dir":         "work-dir",
	"job.chunks_file":      "chunks",
	"job.executor_count":   "executors",
	"job.shutdown_timeout": "shutdown-timeout",
	"logging.level":        "log-level",
	"tracing.enabled":      "trace",
}

// LoadCoordinator loads the coordinator configuration from the given path.
// If configPath is empty, it looks for coordinator.yaml in the config/ directory.
// Environment variables with GOJOB_COORDINATOR_ prefix override config file values,
// and flags registered on the given set override both.
func LoadCoordinator(configPath string, flags *pflag.FlagSet) (*CoordinatorConfig, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.read_timeout", 5*time.Minute)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", int64(512<<20))
	v.SetDefault("grpc.addr", "")
	v.SetDefault("grpc.enable_reflection", true)
	v.SetDefault("grpc.keepalive_min_time", 30*time.Second)
	v.SetDefault("job.source_dir", ".")
	v.SetDefault("job.work_dir", "target/gojob")
	v.SetDefault("job.chunks_file", "chunks.yaml")
	v.SetDefault("job.store_url", "")
	v.SetDefault("job.executor_count", 0)
	v.SetDefault("job.executor_command", "")
	v.SetDefault("job.docker_image", "gojob/executor")
	v.SetDefault("job.executor_options", "")
	v.SetDefault("job.shutdown_timeout", 0)
	v.SetDefault("job.upload_dir", "gojob-out")
	v.SetDefault("job.result_pattern", "**/*.json")
	v.SetDefault("archive.exclude", []string{"**/.*", "**/target", "**/build"})
	v.SetDefault("health.check_interval", 15*time.Second)
	v.SetDefault("health.stale_timeout", 0)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")
	v.SetDefault("tracing.service_name", "gojob-coordinator")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := readConfig(v, configPath, "coordinator"); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("GOJOB_COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, flags, coordinatorFlags); err != nil {
		return nil, err
	}

	var cfg CoordinatorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
