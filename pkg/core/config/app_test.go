package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setAppEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envAppEnv, "test")
	t.Setenv(envAppServiceName, "eventbus")
	t.Setenv(envAppServiceVersion, "1.0.0")
	t.Setenv(envAppNodeID, "")
}

func TestNewAppConfig_Success(t *testing.T) {
	// Arrange
	setAppEnv(t)
	t.Setenv(envAppNodeID, "7")

	// Act
	cfg, err := newAppConfig()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "eventbus", cfg.ServiceName)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
	assert.Equal(t, int64(7), cfg.NodeID)
}

func TestNewAppConfig_DefaultNodeID(t *testing.T) {
	// Arrange
	setAppEnv(t)

	// Act
	cfg, err := newAppConfig()

	// Assert
	require.NoError(t, err)
	assert.Zero(t, cfg.NodeID)
}

func TestNewAppConfig_MissingVariables(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{name: "missing env", unset: envAppEnv},
		{name: "missing service name", unset: envAppServiceName},
		{name: "missing service version", unset: envAppServiceVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			setAppEnv(t)
			t.Setenv(tt.unset, "")

			// Act
			_, err := newAppConfig()

			// Assert
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.unset)
		})
	}
}

func TestNewAppConfig_InvalidNodeID(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "not a number", value: "abc"},
		{name: "negative", value: "-1"},
		{name: "too large", value: "1024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			setAppEnv(t)
			t.Setenv(envAppNodeID, tt.value)

			// Act
			_, err := newAppConfig()

			// Assert
			require.Error(t, err)
			assert.Contains(t, err.Error(), envAppNodeID)
		})
	}
}
