package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-grid-etl/internal/config"
)

func TestNewCLILogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCLILogger(&config.Config{LogLevel: "info", LogFormat: "json"}, &buf)

	logger.Debug("hidden")
	logger.Info("run ingested", "domain", "dwd_icon_d2")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run ingested", entry["msg"])
	assert.Equal(t, "dwd_icon_d2", entry["domain"])
}

func TestNewCLILogger_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewCLILogger(&config.Config{LogLevel: "DEBUG", LogFormat: "text"}, &buf)

	logger.Debug("opening dataset", "path", "/tmp/run.nc")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "path=/tmp/run.nc")
}

func TestNewCLILogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewCLILogger(&config.Config{LogLevel: tt.level}, io.Discard)
			assert.True(t, logger.Enabled(context.Background(), tt.expected))
			assert.False(t, logger.Enabled(context.Background(), tt.expected-1))
		})
	}
}

func TestNewLogger_InstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})

	assert.Same(t, logger, slog.Default())
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.NotifyErrors.Inc()

	assert.NotSame(t, a.NotifyErrors, b.NotifyErrors)
}
