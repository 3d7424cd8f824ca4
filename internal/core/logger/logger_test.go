package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, "json")
	t.Cleanup(func() { Init(slog.LevelInfo, "text") })

	ctx := WithClientID(WithRequestID(context.Background(), "req-1"), "W1")
	InfoContext(ctx, "heartbeat received")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "heartbeat received", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "W1", line["client_id"])
	assert.Equal(t, "tally-bridge", line["service"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
