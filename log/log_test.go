package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Debug("debug")
	l.Infof("info %d", 1)
	assert.Nil(t, l.With("k", "v"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")

	l.Info("hidden")
	l.Warnf("tile %s failed", "0/0/0")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "tile 0/0/0 failed")
	assert.Contains(t, out, "callstack")
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With("layer", "city")
	l.Debugf("hello")
	assert.True(t, strings.Contains(buf.String(), `"layer":"city"`), buf.String())
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error", ""} {
		_, ok := ParseLevel(name)
		assert.True(t, ok, name)
	}
	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}
