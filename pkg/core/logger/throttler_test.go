package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogThrottler_DefaultInterval(t *testing.T) {
	throttler := NewLogThrottler(zap.NewNop(), 0)

	assert.Equal(t, 5*time.Minute, throttler.interval)
}

func TestLogThrottler_Warn(t *testing.T) {
	t.Run("first call warns, repeats are debug", func(t *testing.T) {
		// Given: a throttler with a long interval
		core, logs := observer.New(zapcore.DebugLevel)
		throttler := NewLogThrottler(zap.New(core), time.Hour)

		// When: the same key is logged three times
		throttler.Warn("redis", "cold tier unavailable")
		throttler.Warn("redis", "cold tier unavailable")
		throttler.Warn("redis", "cold tier unavailable")

		// Then: one WARN followed by two DEBUG entries
		require.Equal(t, 3, logs.Len())
		assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
		assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
		assert.Equal(t, zapcore.DebugLevel, logs.All()[2].Level)
	})

	t.Run("keys are independent", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		throttler := NewLogThrottler(zap.New(core), time.Hour)

		throttler.Warn("a", "first")
		throttler.Warn("b", "second")

		require.Equal(t, 2, logs.Len())
		assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
		assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
	})

	t.Run("reports suppressed count on next warn", func(t *testing.T) {
		// Given: a short interval
		core, logs := observer.New(zapcore.WarnLevel)
		throttler := NewLogThrottler(zap.New(core), 20*time.Millisecond)

		// When: calls are suppressed and then the interval elapses
		throttler.Warn("k", "msg")
		throttler.Warn("k", "msg")
		throttler.Warn("k", "msg")
		time.Sleep(30 * time.Millisecond)
		throttler.Warn("k", "msg")

		// Then: the second WARN carries the suppressed count
		require.Equal(t, 2, logs.Len())
		assert.EqualValues(t, 2, logs.All()[1].ContextMap()["suppressed"])
	})

	t.Run("reset logs immediately", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		throttler := NewLogThrottler(zap.New(core), time.Hour)

		throttler.Warn("k", "msg")
		throttler.Reset("k")
		throttler.Warn("k", "msg")

		assert.Equal(t, 2, logs.Len())
	})
}
