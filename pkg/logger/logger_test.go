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

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prev)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	InfoC("dispatcher", "hidden")
	WarnC("dispatcher", "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] dispatcher: shown")
}

func TestFieldsAreSorted(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(DEBUG)

	DebugCF("registry", "rebuilt", map[string]any{"zeta": 1, "alpha": "a"})

	assert.Contains(t, buf.String(), "{alpha=a, zeta=1}")
}

func TestFileLoggingWritesJSONLines(t *testing.T) {
	captureOutput(t)
	SetLevel(INFO)

	path := filepath.Join(t.TempDir(), "modclaw.log")
	require.NoError(t, EnableFileLogging(path))
	InfoCF("bus", "published", map[string]any{"recipient": "u1"})
	DisableFileLogging()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "bus", entry.Component)
	assert.Equal(t, "u1", entry.Fields["recipient"])
}
