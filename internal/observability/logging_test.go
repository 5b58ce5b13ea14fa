package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/splendor/internal/config"
)

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(config.LoggingConfig{Level: "info", Format: format})
		require.NoError(t, err, "format %q should be valid", format)
		assert.NotNil(t, logger)
	}
}

func TestNewLogger_LevelIsApplied(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestLoggerConfig_BaseFields(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			cfg, err := loggerConfig(config.LoggingConfig{Level: "info", Format: format})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"service": ServiceName, "version": Version}, cfg.InitialFields)
		})
	}
}

func TestLoggerConfig_JSONIsNotSampled(t *testing.T) {
	cfg, err := loggerConfig(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Nil(t, cfg.Sampling)
	assert.Equal(t, "ts", cfg.EncoderConfig.TimeKey)
}

func TestNewLogger_Rejects(t *testing.T) {
	cases := map[string]config.LoggingConfig{
		"level":  {Level: "trace", Format: "json"},
		"format": {Level: "info", Format: "xml"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLogger(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger_DefaultsAreValid(t *testing.T) {
	cfg, err := config.LoadFromViper(config.Defaults())
	require.NoError(t, err)
	logger, err := NewLogger(cfg.Logging)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
