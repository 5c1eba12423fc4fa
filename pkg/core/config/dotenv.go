package config

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// defaultDotEnvPaths are tried in order; values from earlier files win.
var defaultDotEnvPaths = []string{".env.local", ".env"}

// NewDotEnvModule loads environment variables from .env files.
// Missing files are skipped. Loading happens synchronously when the module is
// created so that APP_* variables are visible to NewAppConfigModule.
func NewDotEnvModule(paths ...string) fx.Option {
	if len(paths) == 0 {
		paths = defaultDotEnvPaths
	}

	loaded := make([]string, 0, len(paths))
	var failures []error
	for _, path := range paths {
		err := godotenv.Load(path)
		switch {
		case err == nil:
			loaded = append(loaded, path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			failures = append(failures, err)
		}
	}

	return fx.Module("dotenv",
		fx.Invoke(func(lc fx.Lifecycle, logger *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					for _, err := range failures {
						logger.Warn("failed to parse .env file", zap.Error(err))
					}
					if len(loaded) == 0 {
						logger.Debug("no .env file loaded", zap.Strings("paths", paths))
						return nil
					}
					logger.Info("loaded .env files", zap.Strings("paths", loaded))
					return nil
				},
			})
		}),
	)
}
