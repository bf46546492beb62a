package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig controls the OpenTelemetry stdout exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Output      string `mapstructure:"output"`
	ServiceName string `mapstructure:"service_name"`
}

// bindFlags binds config keys to command-line flags. Flags missing from the
// set are skipped so binaries only register what they expose.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	if flags == nil {
		return nil
	}
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper, configPath, name string) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
