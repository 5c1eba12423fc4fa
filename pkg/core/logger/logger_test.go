package logger

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("development mode", func(t *testing.T) {
		// Given: development configuration
		cfg := Config{Level: zapcore.DebugLevel, Development: true, StacktraceLevel: zapcore.ErrorLevel}

		// When: creating logger
		log, err := newLogger(cfg)

		// Then: logger is enabled at debug and becomes the default
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
		assert.Same(t, log, Get(context.Background()))
	})

	t.Run("invalid output path", func(t *testing.T) {
		// Given: an empty output path
		cfg := Config{Level: zapcore.InfoLevel, OutputPaths: []string{"  "}}

		// When: creating logger
		_, err := newLogger(cfg)

		// Then: validation fails
		require.Error(t, err)
		assert.Contains(t, err.Error(), "output-paths[0]")
	})
}

func TestNewConfig(t *testing.T) {
	t.Run("missing section uses defaults", func(t *testing.T) {
		cfg, err := newConfig(viper.New())

		require.NoError(t, err)
		assert.Equal(t, zapcore.InfoLevel, cfg.Level)
		assert.Equal(t, zapcore.ErrorLevel, cfg.StacktraceLevel)
	})

	t.Run("parses levels", func(t *testing.T) {
		v := viper.New()
		v.Set("logger.level", "debug")
		v.Set("logger.stacktrace-level", "warn")
		v.Set("logger.development", true)

		cfg, err := newConfig(v)

		require.NoError(t, err)
		assert.Equal(t, zapcore.DebugLevel, cfg.Level)
		assert.Equal(t, zapcore.WarnLevel, cfg.StacktraceLevel)
		assert.True(t, cfg.Development)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		v := viper.New()
		v.Set("logger.level", "loud")

		_, err := newConfig(v)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestContext(t *testing.T) {
	t.Run("nil context returns default", func(t *testing.T) {
		//nolint:staticcheck // nil context is part of the contract
		assert.NotNil(t, Get(nil))
	})

	t.Run("with and get round trip", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		log := zap.New(core)

		ctx := With(context.Background(), log)
		ctx = WithFields(ctx, zap.String("eventId", "42"))
		Get(ctx).Info("hello")

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "42", logs.All()[0].ContextMap()["eventId"])
	})
}
