package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Str("sessionId", "abc").Msg("turn completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "turn completed", entry["message"])
	assert.Equal(t, "abc", entry["sessionId"])
	assert.Contains(t, entry, "time")
}

func TestNewDefaultWriter(t *testing.T) {
	require.NotNil(t, New(nil, "info"))
	require.NotNil(t, NewWithStyle(StylePretty, "info"))
	require.NotNil(t, NewWithStyle(StyleJSON, "info"))
}

func TestSubAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")

	log.Sub("engine").With("sessionId", "s-1").Debug().Msg("advancing")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "s-1", entry["sessionId"])
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String(), "debug and info should be filtered at warn level")

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel}, // case-sensitive, defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("silent"))
	assert.True(t, ValidLevel("error"))
	assert.False(t, ValidLevel("verbose"))
}

func TestSilentAndNop(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")
	log.Error().Msg("should not appear")
	assert.Empty(t, buf.String())

	Nop().Error().Msg("discarded")
}
