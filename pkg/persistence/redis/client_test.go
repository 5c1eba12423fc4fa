package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := newConfig(viper.New())

	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
}

func TestNewClient(t *testing.T) {
	t.Run("connects by addr", func(t *testing.T) {
		// Given: a running miniredis
		mr := miniredis.RunT(t)

		// When: creating a client and pinging it
		client, err := NewClient(Config{Addr: mr.Addr()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		// Then: ping succeeds
		require.NoError(t, ping(context.Background(), client, zap.NewNop()))
	})

	t.Run("url wins over addr", func(t *testing.T) {
		mr := miniredis.RunT(t)

		client, err := NewClient(Config{URL: "redis://" + mr.Addr() + "/2", Addr: "unused:1"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		assert.Equal(t, mr.Addr(), client.Options().Addr)
		assert.Equal(t, 2, client.Options().DB)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewClient(Config{URL: "http://nope"})

		require.Error(t, err)
	})

	t.Run("ping fails when server is down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClient(Config{Addr: mr.Addr(), DialTimeout: 100 * time.Millisecond})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		mr.Close()

		err = ping(context.Background(), client, zap.NewNop())

		require.Error(t, err)
	})
}
