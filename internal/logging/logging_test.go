package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")

	log.Info("hidden")
	log.Warn("resume failed", "error", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "resume failed")
	assert.Contains(t, out, "err=boom")
}

func TestNewNop(t *testing.T) {
	assert.False(t, NewNop().Enabled(context.Background(), slog.LevelError))
}
