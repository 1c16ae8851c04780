package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}

	Error(context.Background(), m, "Failed to load user data.")
	Success(context.Background(), m, "Credits added")

	for name, r := range map[string]*Recorder{"a": &a, "b": &b} {
		if got := len(r.Notices()); got != 2 {
			t.Errorf("%s: notices = %d, want 2", name, got)
		}
		if r.Count(LevelError) != 1 || r.Count(LevelSuccess) != 1 {
			t.Errorf("%s: unexpected levels %+v", name, r.Notices())
		}
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))

	Info(context.Background(), l, "Payment cancelled.")

	out := buf.String()
	if !strings.Contains(out, "Payment cancelled.") || !strings.Contains(out, `"notice":"info"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestRecorderReset(t *testing.T) {
	var r Recorder
	Info(context.Background(), &r, "x")
	r.Reset()
	if len(r.Notices()) != 0 {
		t.Error("expected no notices after reset")
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	Error(context.Background(), w, "Session expired. Please log in again.")
	if got := buf.String(); got != "[error] Session expired. Please log in again.\n" {
		t.Errorf("output = %q", got)
	}
}
