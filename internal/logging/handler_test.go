package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func textSink(buf *bytes.Buffer, lvl slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: lvl})
}

type failingSink struct{ slog.Handler }

func (failingSink) Enabled(context.Context, slog.Level) bool { return true }

func (failingSink) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandler_Handle(t *testing.T) {
	var file, console bytes.Buffer
	multi := NewMultiHandler(nil, textSink(&file, slog.LevelDebug), nil, textSink(&console, slog.LevelWarn))
	require.Len(t, multi.sinks, 2)

	logger := slog.New(multi)
	logger.Debug("tick advanced", "tick", 4)
	logger.Warn("stalled", "device", "robot1")

	assert.Contains(t, file.String(), "tick advanced")
	assert.Contains(t, file.String(), "stalled")
	assert.NotContains(t, console.String(), "tick advanced")
	assert.Contains(t, console.String(), "device=robot1")
}

func TestMultiHandler_FailingSink(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(failingSink{}, textSink(&buf, slog.LevelInfo), failingSink{})

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still delivered", 0)
	err := multi.Handle(context.Background(), r)

	assert.Contains(t, buf.String(), "still delivered")
	assert.Len(t, multierr.Errors(err), 2)
}

func TestMultiHandler_Enabled(t *testing.T) {
	ctx := context.Background()
	info := textSink(&bytes.Buffer{}, slog.LevelInfo)
	debug := textSink(&bytes.Buffer{}, slog.LevelDebug)

	tests := []struct {
		name  string
		sinks []slog.Handler
		level slog.Level
		want  bool
	}{
		{"empty", nil, slog.LevelError, false},
		{"below every sink", []slog.Handler{info}, slog.LevelDebug, false},
		{"at sink level", []slog.Handler{info}, slog.LevelInfo, true},
		{"any sink enables", []slog.Handler{info, debug}, slog.LevelDebug, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewMultiHandler(tt.sinks...).Enabled(ctx, tt.level))
		})
	}
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(textSink(&buf, slog.LevelInfo))

	assert.Same(t, multi, multi.WithGroup(""))

	logger := slog.New(multi.WithAttrs([]slog.Attr{slog.String("device", "robot1")}).WithGroup("pose"))
	logger.Info("moved", "x", 12)

	assert.Contains(t, buf.String(), "device=robot1")
	assert.Contains(t, buf.String(), "pose.x=12")
}

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	h := NewContextHandler(textSink(&buf, slog.LevelInfo), func() []slog.Attr {
		calls++
		if calls == 1 {
			return nil
		}
		return []slog.Attr{slog.Uint64("tick", 9), slog.String("session", "abc")}
	})

	logger := slog.New(h.WithGroup(""))
	logger.Info("first")
	logger.Info("second")
	logger.Debug("filtered")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.NotContains(t, string(lines[0]), "tick=")
	assert.Contains(t, string(lines[1]), "tick=9 session=abc")
	assert.Equal(t, 2, calls)
}
