package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord_JSON(t *testing.T) {
	var buf bytes.Buffer
	f := New(Options{Writer: &buf, Level: LevelDebug, Format: FormatJSON})

	f.Scope("scheduler").Info("check", "cond1", WhenEnd, StatusOK, "check completed")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "taskwarden", decoded["application"])
	require.Equal(t, "scheduler", decoded["emitter"])
	require.Equal(t, "cond1", decoded["item"])
	require.Equal(t, "END", decoded["when"])
	require.Equal(t, "OK", decoded["status"])
}

func TestRecord_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	f := New(Options{Writer: &buf, Level: LevelError, Format: FormatJSON})

	f.Scope("scheduler").Info("check", "cond1", WhenEnd, StatusOK, "should be filtered")
	require.Zero(t, buf.Len())

	f.Scope("scheduler").Error("check", "cond1", WhenEnd, StatusErr, "should pass")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"trace", "debug", "info", "warn", "error"} {
		_, ok := ParseLevel(s)
		require.True(t, ok, s)
	}
	_, ok := ParseLevel("bogus")
	require.False(t, ok)
}
