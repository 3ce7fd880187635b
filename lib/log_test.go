package lib

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		level    int32
		expected []string
	}{
		{
			name:     "debug",
			detail:   "every level is written",
			level:    DebugLevel,
			expected: []string{"DEBUG: d", "INFO: i", "WARN: w", "ERROR: e"},
		},
		{
			name:     "warn",
			detail:   "lower levels are filtered",
			level:    WarnLevel,
			expected: []string{"WARN: w", "ERROR: e"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out := new(bytes.Buffer)
			l := NewLogger(LoggerConfig{Level: test.level, Out: out})
			l.Debug("d")
			l.Infof("%s", "i")
			l.Warn("w")
			l.Errorf("%s", "e")
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, len(test.expected))
			for i, expected := range test.expected {
				require.Contains(t, lines[i], expected)
			}
		})
	}
}

func TestLoggerName(t *testing.T) {
	out := new(bytes.Buffer)
	l := NewLogger(LoggerConfig{Level: InfoLevel, Name: "node-2", Out: out})
	l.Info("started")
	l.Print("plain")
	require.Contains(t, out.String(), "[node-2]")
	require.Equal(t, 2, strings.Count(out.String(), "[node-2]"))
	require.Contains(t, out.String(), "plain")
}
