package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wikigraph/pkg/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	retention := Component(logger, "retention")
	retention.Info().Msg("dropped")
	assert.Zero(t, buf.Len(), "info is below warn")

	retention.Warn().Int("nodes", 3).Msg("slow sweep")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "retention", entry["component"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, float64(3), entry["nodes"])
	assert.Equal(t, "slow sweep", entry["message"])
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Debug().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"bad level", config.LoggingConfig{Level: "loud", Format: "json"}},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}
