package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperdex/pkg/types"
)

type credentials struct {
	User   string
	APIKey string `masq:"secret"`
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "info", Format: FormatJSON})
	require.NoError(t, err)

	logger.Info("ingest finished", slog.Int("succeeded", 3))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ingest finished", record["msg"])
	assert.Equal(t, float64(3), record["succeeded"])
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: "warn"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_RedactsSecrets(t *testing.T) {
	for _, format := range []string{FormatText, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, Options{Format: format})
			require.NoError(t, err)

			logger.Info("config", slog.Any("creds", credentials{User: "alice", APIKey: "sk-live-123"}))
			assert.NotContains(t, buf.String(), "sk-live-123")
			assert.Contains(t, buf.String(), "alice")
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Options{Level: "loud"})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
