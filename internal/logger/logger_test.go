package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Config{Level: "debug"}, &buf)
	require.NoError(t, err)

	log.Debug().Str("port", "/dev/ttyUSB0").Msg("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "/dev/ttyUSB0", entry["port"])
	assert.Equal(t, "connected", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Config{Level: "WARN"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Config{Format: "text"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("brewing")
	assert.Contains(t, buf.String(), "brewing")
	assert.Contains(t, buf.String(), "INF")
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
