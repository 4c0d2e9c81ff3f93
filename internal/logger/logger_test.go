package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstallsGlobalJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "warn", Pretty: "auto"}, &buf)
	require.NoError(t, err)
	defer l.Close()

	log.Info().Msg("hidden")
	log.Warn().Str("session_id", "abc").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "api.log")
	var buf bytes.Buffer
	l, err := newWithConsole(Config{Level: "bogus", File: path}, &buf)
	require.NoError(t, err)

	log.Info().Msg("to both")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestWantPretty(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, wantPretty("true", &buf))
	assert.False(t, wantPretty("false", &buf))
	assert.False(t, wantPretty("auto", &buf))
}
