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

// captureOutput redirects logger output to a buffer and returns a
// cleanup that restores the previous sink.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)

	mu.Lock()
	prevOutput := output
	prevColor := useColor
	output = buf
	useColor = false
	mu.Unlock()
	reconfigure()

	t.Cleanup(func() {
		mu.Lock()
		output = prevOutput
		useColor = prevColor
		mu.Unlock()
		SetLevel("INFO")
		SetFormat("text")
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("WARN")
	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestStructuredFields(t *testing.T) {
	buf := captureOutput(t)
	SetLevel("DEBUG")

	Info("commit relayed", KeyRepo, "test", KeyChannel, "#commits", KeyQueue, 3)

	out := buf.String()
	assert.Contains(t, out, "commit relayed")
	assert.Contains(t, out, "repo=test")
	assert.Contains(t, out, "channel=#commits")
	assert.Contains(t, out, "queue=3")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t)
	SetFormat("json")

	Info("hello", KeyNetwork, "oftc")

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "oftc", rec["network"])
}

func TestInvalidSettingsIgnored(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("SHOUTING")
	SetFormat("xml")
	Info("still works")

	assert.Contains(t, buf.String(), "still works")
}

func TestInitOutputOnlyRedirects(t *testing.T) {
	mu.Lock()
	prevOutput := output
	prevColor := useColor
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		output = prevOutput
		useColor = prevColor
		mu.Unlock()
		SetLevel("INFO")
		SetFormat("text")
	})

	// Level and format untouched: the new writer must still take.
	path := filepath.Join(t.TempDir(), "bot.log")
	require.NoError(t, Init(Config{Output: path}))
	Error("redirected line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "redirected line")
}

func TestWithBindsAttrs(t *testing.T) {
	buf := captureOutput(t)

	l := With(KeyNetwork, "oftc")
	l.Info("connected")

	out := buf.String()
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "network=oftc")
}
