package core

import (
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/config"
	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"github.com/Sokol111/ecommerce-eventbus/pkg/core/logger"
	"go.uber.org/fx"
)

type coreOptions struct {
	appConfig      *config.AppConfig
	loggerConfig   *logger.Config
	viperOptions   []config.ViperOption
	disableDotEnv  bool
	noConfigFile   bool
	configFilePath string
}

// Option is a functional option for configuring the core module.
type Option func(*coreOptions)

// WithAppConfig provides a static AppConfig instead of reading APP_* variables.
func WithAppConfig(cfg config.AppConfig) Option {
	return func(opts *coreOptions) {
		opts.appConfig = &cfg
	}
}

// WithLoggerConfig provides a static logger Config.
func WithLoggerConfig(cfg logger.Config) Option {
	return func(opts *coreOptions) {
		opts.loggerConfig = &cfg
	}
}

// WithoutEnvFile disables loading of .env files.
func WithoutEnvFile() Option {
	return func(opts *coreOptions) {
		opts.disableDotEnv = true
	}
}

// WithoutConfigFile disables loading of a config file.
func WithoutConfigFile() Option {
	return func(opts *coreOptions) {
		opts.noConfigFile = true
	}
}

// WithConfigFile loads configuration from path instead of CONFIG_FILE.
func WithConfigFile(path string) Option {
	return func(opts *coreOptions) {
		opts.configFilePath = path
	}
}

// WithConfigOverrides sets configuration keys on top of file and env values.
func WithConfigOverrides(values map[string]any) Option {
	return func(opts *coreOptions) {
		opts.viperOptions = append(opts.viperOptions, config.WithOverrides(values))
	}
}

// NewCoreModule provides config, logger, and readiness tracking.
//
// Example usage:
//
//	// Production - loads config from environment/viper
//	core.NewCoreModule()
//
//	// Testing - with static configs
//	core.NewCoreModule(
//	    core.WithAppConfig(config.AppConfig{...}),
//	    core.WithoutEnvFile(),
//	    core.WithoutConfigFile(),
//	)
func NewCoreModule(opts ...Option) fx.Option {
	cfg := &coreOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Options(
		fx.StartTimeout(2*time.Minute),
		fx.StopTimeout(time.Minute),

		dotEnvModule(cfg),
		viperModule(cfg),
		appConfigModule(cfg),
		loggerModule(cfg),
		health.NewReadinessModule(),
	)
}

func dotEnvModule(cfg *coreOptions) fx.Option {
	if cfg.disableDotEnv {
		return fx.Options()
	}
	return config.NewDotEnvModule()
}

func viperModule(cfg *coreOptions) fx.Option {
	opts := cfg.viperOptions
	switch {
	case cfg.noConfigFile:
		opts = append(opts, config.WithoutConfigFile())
	case cfg.configFilePath != "":
		opts = append(opts, config.WithConfigPath(cfg.configFilePath))
	}
	return config.NewViperModule(opts...)
}

func appConfigModule(cfg *coreOptions) fx.Option {
	if cfg.appConfig != nil {
		return config.NewAppConfigModule(config.WithAppConfig(*cfg.appConfig))
	}
	return config.NewAppConfigModule()
}

func loggerModule(cfg *coreOptions) fx.Option {
	if cfg.loggerConfig != nil {
		return logger.NewZapLoggingModule(logger.WithLoggerConfig(*cfg.loggerConfig))
	}
	return logger.NewZapLoggingModule()
}
