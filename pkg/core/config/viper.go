package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type viperConfig struct {
	configPath   *string
	noConfigFile bool
	overrides    map[string]any
}

// ViperOption is a functional option for configuring the Viper module.
type ViperOption func(*viperConfig)

// WithConfigPath sets a direct path to the configuration file.
// Overrides the CONFIG_FILE environment variable.
func WithConfigPath(path string) ViperOption {
	return func(cfg *viperConfig) {
		cfg.configPath = &path
	}
}

// WithoutConfigFile disables loading of any config file.
// Viper is still provided, populated from env and overrides only.
func WithoutConfigFile() ViperOption {
	return func(cfg *viperConfig) {
		cfg.noConfigFile = true
	}
}

// WithOverrides sets keys on top of the file and environment values.
// Keys use dotted paths, e.g. "eventbus.broadcast.batch-size".
func WithOverrides(values map[string]any) ViperOption {
	return func(cfg *viperConfig) {
		if cfg.overrides == nil {
			cfg.overrides = make(map[string]any, len(values))
		}
		for k, v := range values {
			cfg.overrides[k] = v
		}
	}
}

// FilePath represents the path to a configuration file.
// Empty string means no config file will be loaded.
type FilePath string

// NewViperModule creates an fx module for Viper configuration.
// The config path is resolved from CONFIG_FILE unless WithConfigPath or
// WithoutConfigFile is given.
func NewViperModule(opts ...ViperOption) fx.Option {
	cfg := &viperConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Module("viper",
		fx.Supply(resolveConfigPath(cfg)),
		fx.Provide(func(configFile FilePath, logger *zap.Logger) (*viper.Viper, error) {
			return newViper(configFile, cfg.overrides, logger)
		}),
		fx.Invoke(logViperConfig),
	)
}

func logViperConfig(logger *zap.Logger, v *viper.Viper) {
	logger.Info("configuration loaded",
		zap.String("configFile", v.ConfigFileUsed()),
		zap.Strings("configKeys", v.AllKeys()),
	)
}

func resolveConfigPath(cfg *viperConfig) FilePath {
	if cfg.noConfigFile {
		return ""
	}
	if cfg.configPath != nil {
		return FilePath(*cfg.configPath)
	}
	return FilePath(os.Getenv(envConfigFile))
}

func newViper(configFile FilePath, overrides map[string]any, logger *zap.Logger) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(string(configFile))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file [%s]: %w", configFile, err)
		}
	} else {
		logger.Info("no config file specified, using env and defaults only")
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	return v, nil
}
