package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONWithMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	traceIDFn := func(context.Context) string { return "trace-123" }
	log := NewWithMetadata(&buf, LevelInfo, "ANALYSIS", traceIDFn, Events{}, map[string]string{
		"hostname": "node-1",
		"pod":      "",
		"app":      "override",
	})

	log.With("component", "registry").Info(context.Background(), "service registered", "service", "secrets")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "service registered", rec["msg"])
	assert.Equal(t, "ANALYSIS", rec["app"])
	assert.Equal(t, "secrets", rec["service"])
	assert.Equal(t, "node-1", rec["hostname"])
	assert.Equal(t, "registry", rec["component"])
	assert.Equal(t, "trace-123", rec["trace_id"])
	assert.NotContains(t, rec, "pod")
	assert.Contains(t, rec, "file")
}

func TestLogger_MinLevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "ANALYSIS", nil)

	log.Debug(context.Background(), "dropped")
	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	t.Parallel()

	var got []Record
	events := Events{
		Error: func(_ context.Context, r Record) { got = append(got, r) },
	}

	var buf bytes.Buffer
	log := NewWithEvents(&buf, LevelDebug, "ANALYSIS", nil, events)
	log.Info(context.Background(), "not an error")
	log.Error(context.Background(), "boom", "task_id", "abc")

	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Message)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Equal(t, "abc", got[0].Attributes["task_id"])
}

func TestNoop_Discards(t *testing.T) {
	t.Parallel()

	log := Noop().With("k", "v")
	assert.NotPanics(t, func() {
		log.Error(context.Background(), "ignored")
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"WARNING", LevelWarn},
		{" error ", LevelError},
		{"info", LevelInfo},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
