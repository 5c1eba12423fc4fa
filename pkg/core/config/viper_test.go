package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewViper_ReadsFile(t *testing.T) {
	// Arrange
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
eventbus:
  broadcast:
    batch-size: 25
  dedup:
    success-ttl: 12h
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	// Act
	v, err := newViper(FilePath(configFile), nil, zap.NewNop())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, configFile, v.ConfigFileUsed())
	assert.Equal(t, 25, v.GetInt("eventbus.broadcast.batch-size"))
	assert.Equal(t, "12h", v.GetString("eventbus.dedup.success-ttl"))
}

func TestNewViper_FileNotFound(t *testing.T) {
	// Act
	v, err := newViper("/nonexistent/config.yaml", nil, zap.NewNop())

	// Assert
	require.Error(t, err)
	assert.Nil(t, v)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewViper_EnvOverridesFile(t *testing.T) {
	// Arrange
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("redis:\n  addr: localhost:6379\n"), 0o644))
	t.Setenv("REDIS_ADDR", "redis:6380")

	// Act
	v, err := newViper(FilePath(configFile), nil, zap.NewNop())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", v.GetString("redis.addr"))
}

func TestNewViper_Overrides(t *testing.T) {
	// Act
	v, err := newViper("", map[string]any{"eventbus.cluster.shard-count": 8}, zap.NewNop())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 8, v.GetInt("eventbus.cluster.shard-count"))
	assert.Empty(t, v.ConfigFileUsed())
}

func TestResolveConfigPath(t *testing.T) {
	t.Run("without config file wins", func(t *testing.T) {
		t.Setenv(envConfigFile, "/from/env.yaml")
		cfg := &viperConfig{}
		WithConfigPath("/direct.yaml")(cfg)
		WithoutConfigFile()(cfg)

		assert.Equal(t, FilePath(""), resolveConfigPath(cfg))
	})

	t.Run("direct path beats env", func(t *testing.T) {
		t.Setenv(envConfigFile, "/from/env.yaml")
		cfg := &viperConfig{}
		WithConfigPath("/direct.yaml")(cfg)

		assert.Equal(t, FilePath("/direct.yaml"), resolveConfigPath(cfg))
	})

	t.Run("falls back to env", func(t *testing.T) {
		t.Setenv(envConfigFile, "/from/env.yaml")

		assert.Equal(t, FilePath("/from/env.yaml"), resolveConfigPath(&viperConfig{}))
	})
}
