package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"DEBUG", LevelDebug, false},
		{"Warning", LevelWarn, false},
		{"dEbUg", LevelDebug, false},
		{"", LevelInfo, false},
		{"trace", LevelInfo, true},
		{"fatal", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"text", FormatText, false},
		{"", FormatText, false},
		{"yaml", FormatText, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: FormatJSON, Output: &buf})

	logger.Info("hidden")
	logger.Warn("evicted body", "requestId", "client-3")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "evicted body", rec["msg"])
	assert.Equal(t, "client-3", rec["requestId"])
}

func TestNew_FileTee(t *testing.T) {
	t.Parallel()
	var console, file bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatText, Output: &console, File: &file})

	logger.With("session", "abc").Info("observer connected")

	assert.Contains(t, console.String(), "msg=\"observer connected\"")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &rec))
	assert.Equal(t, "observer connected", rec["msg"])
	assert.Equal(t, "abc", rec["session"])
}

func TestNop(t *testing.T) {
	t.Parallel()
	logger := Nop()
	assert.False(t, logger.Enabled(context.Background(), LevelError))
	logger.Error("dropped")
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiHandler_ContinuesPastFailure(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	good := slog.NewTextHandler(&buf, nil)
	h := NewMultiHandler(failingHandler{good}, good)

	err := slog.New(h).Handler().Handle(context.Background(), slog.NewRecord(time.Time{}, LevelInfo, "kept", 0))
	assert.EqualError(t, err, "disk full")
	assert.Contains(t, buf.String(), "msg=kept")
}

func TestMultiHandler_Enabled(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	debug := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelDebug})
	errOnly := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelError})

	assert.True(t, NewMultiHandler(debug, errOnly).Enabled(context.Background(), LevelDebug))
	assert.False(t, NewMultiHandler(errOnly).Enabled(context.Background(), LevelWarn))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), LevelError))
}
