package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	SetFormat("text")
	SetWriter(buf)
	SetLevel("INFO")
	t.Cleanup(func() {
		SetFormat("text")
		SetLevel("INFO")
		SetWriter(os.Stdout)
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("SuppressesBelowCurrentLevel", func(t *testing.T) {
		buf := resetLogger(t)
		SetLevel("WARN")

		Info("hidden %d", 1)
		Warn("shown %d", 2)

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown 2")
	})

	t.Run("LevelNamesAreCaseInsensitive", func(t *testing.T) {
		buf := resetLogger(t)
		SetLevel("debug")

		Debug("xid=0x%x", 0x2a)
		assert.Contains(t, buf.String(), "xid=0x2a")
		assert.True(t, IsDebug())
	})

	t.Run("UnknownLevelIsIgnored", func(t *testing.T) {
		buf := resetLogger(t)
		SetLevel("LOUD")

		Debug("nope")
		Info("yes")
		assert.NotContains(t, buf.String(), "nope")
		assert.Contains(t, buf.String(), "yes")
	})
}

func TestJSONFormat(t *testing.T) {
	buf := resetLogger(t)
	SetFormat("json")

	Error("registration failed for program %d", 100003)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "registration failed for program 100003", line["msg"])
}

func TestSetOutputFile(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "rpc.log")

	require.NoError(t, SetOutput(path))
	Info("to file")
	SetWriter(os.Stdout)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
