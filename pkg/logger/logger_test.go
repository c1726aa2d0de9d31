package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, opts Options) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts.Output = buf
	opts.Format = "json"
	return New(opts), buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestFieldsFollowTheContext(t *testing.T) {
	log, buf := newBuffered(t, Options{ServiceName: "api", Level: zerolog.DebugLevel})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithTimerID(ctx, "main-hall")
	log.Error(ctx, "timer write failed", errors.New("boom"))

	entry := lastEntry(t, buf)
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "main-hall", entry["timer_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.NotEmpty(t, entry["stack"])
}

func TestParentContextIsUntouched(t *testing.T) {
	log, buf := newBuffered(t, Options{ServiceName: "api"})

	parent := log.WithUserID(context.Background(), "u-1")
	_ = log.WithAlertID(parent, "a-9")
	log.Info(parent, "hello")

	entry := lastEntry(t, buf)
	assert.Equal(t, "u-1", entry["user_id"])
	assert.NotContains(t, entry, "alert_id")
}

func TestWarnStackToggle(t *testing.T) {
	log, buf := newBuffered(t, Options{WarnStack: true})
	log.Warn(context.Background(), "slow dispatch")
	assert.Contains(t, lastEntry(t, buf), "stack")

	log, buf = newBuffered(t, Options{})
	log.Warn(context.Background(), "slow dispatch")
	assert.NotContains(t, lastEntry(t, buf), "stack")
}

func TestDebugFilteredAtInfo(t *testing.T) {
	log, buf := newBuffered(t, Options{})
	log.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
}

func TestNilContextUsesBase(t *testing.T) {
	log, buf := newBuffered(t, Options{ServiceName: "worker"})
	//nolint:staticcheck
	log.Info(nil, "boot")
	assert.Equal(t, "worker", lastEntry(t, buf)["service"])
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	ctx := log.WithOrigin(context.Background(), "console")
	log.Error(ctx, "ignored", errors.New("x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
}
