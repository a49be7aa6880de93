package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGELF struct {
	mu   sync.Mutex
	msgs []*gelf.Message
	err  error
}

func (f *fakeGELF) WriteMessage(m *gelf.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeGELF) messages() []*gelf.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gelf.Message(nil), f.msgs...)
}

func TestGELFHandler_Fields(t *testing.T) {
	w := &fakeGELF{}
	logger := slog.New(NewGELFHandler(w, slog.LevelDebug))

	logger.Info("snapshot applied",
		"revision", int64(12),
		"players", 3,
		"delta", true,
		"elapsed", 1.5,
		"id", "abc",
	)

	msgs := w.messages()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "1.1", m.Version)
	assert.Equal(t, "snapshot applied", m.Short)
	assert.Equal(t, gelfInfo, m.Level)
	assert.Equal(t, ServiceName, m.Facility)
	assert.Equal(t, int64(12), m.Extra["_revision"])
	assert.Equal(t, int64(3), m.Extra["_players"])
	assert.Equal(t, true, m.Extra["_delta"])
	assert.Equal(t, 1.5, m.Extra["_elapsed"])
	assert.Equal(t, "abc", m.Extra["_id_"])
	assert.NotContains(t, m.Extra, "_id")
	assert.Greater(t, m.TimeUnix, float64(0))
}

func TestGELFHandler_Levels(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  int32
	}{
		{slog.LevelDebug, gelfDebug},
		{slog.LevelInfo, gelfInfo},
		{slog.LevelWarn, gelfWarning},
		{slog.LevelError, gelfError},
		{slog.LevelError + 4, gelfError},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, gelfLevel(tt.level))
		})
	}
}

func TestGELFHandler_FiltersLevel(t *testing.T) {
	w := &fakeGELF{}
	logger := slog.New(NewGELFHandler(w, slog.LevelWarn))

	logger.Info("dropped")
	logger.Warn("kept")

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Short)
}

func TestGELFHandler_AttrsAndGroups(t *testing.T) {
	w := &fakeGELF{}
	logger := slog.New(NewGELFHandler(w, slog.LevelInfo)).
		With("component", "session").
		WithGroup("cmd").
		With("type", "mark_set")

	logger.Info("sent", "player", "Steve", slog.Group("ack", "ok", true))

	msgs := w.messages()
	require.Len(t, msgs, 1)
	extra := msgs[0].Extra
	assert.Equal(t, "session", extra["_component"])
	assert.Equal(t, "mark_set", extra["_cmd.type"])
	assert.Equal(t, "Steve", extra["_cmd.player"])
	assert.Equal(t, true, extra["_cmd.ack.ok"])
}

func TestGELFHandler_WithGroupEmpty(t *testing.T) {
	h := NewGELFHandler(&fakeGELF{}, slog.LevelInfo)
	assert.Same(t, h, h.WithGroup(""))
}

func TestGELFHandler_WriteError(t *testing.T) {
	w := &fakeGELF{err: errors.New("udp down")}
	h := NewGELFHandler(w, slog.LevelInfo)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0)
	assert.EqualError(t, h.Handle(context.Background(), r), "udp down")
}
