package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"err", LevelError, false},
		{"none", LevelOff, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTextFormatSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelDebug, Output: &buf})

	l.Marshal().Info("decoded", "rows", 3, "column", "name")

	line := buf.String()
	assert.Contains(t, line, "INFO  [marshal] decoded column=name rows=3")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		DefaultLevel:   LevelWarn,
		CategoryLevels: map[Category]Level{CategoryLoader: LevelDebug},
		Output:         &buf,
	})

	l.Host().Info("dropped")
	l.Loader().Debug("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
	assert.False(t, l.Enabled(CategoryHost, LevelInfo))
	assert.True(t, l.Enabled(CategoryLoader, LevelDebug))
}

func TestOffDisablesEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelOff, Output: &buf})
	l.Error(CategoryHost, "boom", errors.New("x"))
	assert.Empty(t, buf.String())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelDebug, Output: &buf, Format: FormatJSON})

	l.ForSession("a1", 2).Error("execute failed", errors.New("bad"), "batch", 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "session", entry["category"])
	assert.Equal(t, "bad", entry["error"])
	fields := entry["fields"].(map[string]interface{})
	assert.Equal(t, "a1", fields["session"])
	assert.EqualValues(t, 2, fields["task"])
	assert.EqualValues(t, 1, fields["batch"])
}

func TestFieldLoggerDoesNotShareBacking(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{DefaultLevel: LevelDebug, Output: &buf})
	fl := l.Session().WithFields("session", "s")

	fl.Info("one", "k", 1)
	fl.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[1], "k=1")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
