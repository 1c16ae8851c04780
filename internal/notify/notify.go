// Package notify delivers user-facing notices: the transient messages a
// graphical client would show as toasts.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

type Notice struct {
	Level   Level
	Message string
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

func Success(ctx context.Context, n Notifier, msg string) {
	n.Notify(ctx, Notice{Level: LevelSuccess, Message: msg})
}

func Info(ctx context.Context, n Notifier, msg string) {
	n.Notify(ctx, Notice{Level: LevelInfo, Message: msg})
}

func Error(ctx context.Context, n Notifier, msg string) {
	n.Notify(ctx, Notice{Level: LevelError, Message: msg})
}

// Log writes notices to a structured logger.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(ctx context.Context, n Notice) {
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, n.Message, "notice", string(n.Level))
}

// Writer prints notices as plain lines, e.g. to a terminal.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Notify(_ context.Context, n Notice) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, "[%s] %s\n", n.Level, n.Message)
}

// Multi fans a notice out to every wrapped notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}

// Recorder keeps notices in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of the given level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notices {
		if n.Level == level {
			count++
		}
	}
	return count
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.notices = nil
	r.mu.Unlock()
}
