package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"fatal":   LevelFatal,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "WARN", LevelWarn.String())
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: LevelInfo, Format: "json", Output: &buf})

	log.Debug("hidden")
	log.With(Component("scheduler")).Info("plan built", PlanID("p-1"), XPAmount(40))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "plan built", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "p-1", entry["plan_id"])
	assert.EqualValues(t, 40, entry["xp_amount"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewFromZap_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromZap(zap.New(core))

	log.Warn("provider failed", Provider("gemini"), Err(errors.New("quota")), Err(nil), UserID("alice"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "gemini", fields["ai_provider"])
	assert.Equal(t, "quota", fields["error"])
	assert.Equal(t, "alice", fields["user_id"])
	assert.Len(t, fields, 3)
}
