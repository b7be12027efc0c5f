package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testEntry(pluginID, method string, success bool) *Entry {
	return &Entry{
		ID:        "11111111-1111-1111-1111-111111111111",
		Timestamp: time.Now(),
		PluginID:  pluginID,
		Method:    method,
		Success:   success,
		Elapsed:   5 * time.Millisecond,
	}
}

func TestMemoryRecorder(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	if err := rec.Record(ctx, testEntry("a@1.0.0", "greet", true)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := rec.Record(ctx, testEntry("b@1.0.0", "fail", false)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if rec.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rec.Len())
	}

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() returned %d, want 2", len(entries))
	}
	if entries[0].PluginID != "a@1.0.0" || entries[1].PluginID != "b@1.0.0" {
		t.Error("Entries() out of record order")
	}
}

func TestMemoryRecorderByPlugin(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rec.Record(ctx, testEntry("a@1.0.0", "m", true)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := rec.Record(ctx, testEntry("b@1.0.0", "m", true)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if got := len(rec.ByPlugin("a@1.0.0")); got != 3 {
		t.Errorf("ByPlugin(a) = %d entries, want 3", got)
	}
	if got := len(rec.ByPlugin("c@1.0.0")); got != 0 {
		t.Errorf("ByPlugin(c) = %d entries, want 0", got)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, *Entry) error {
	return errors.New("sink unavailable")
}

func TestMultiDeliversToAll(t *testing.T) {
	first := NewMemoryRecorder()
	second := NewMemoryRecorder()
	multi := Multi{first, second}

	if err := multi.Record(context.Background(), testEntry("a@1.0.0", "m", true)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Len() != 1 || second.Len() != 1 {
		t.Errorf("delivery counts = %d, %d, want 1, 1", first.Len(), second.Len())
	}
}

func TestMultiContinuesPastFailure(t *testing.T) {
	mem := NewMemoryRecorder()
	multi := Multi{failingRecorder{}, mem}

	err := multi.Record(context.Background(), testEntry("a@1.0.0", "m", true))
	if err == nil {
		t.Error("Record() should surface the failing recorder's error")
	}
	if mem.Len() != 1 {
		t.Errorf("later recorder got %d entries, want 1", mem.Len())
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := NewLogRecorder(logger)

	entry := testEntry("hello@1.0.0", "greet", true)
	entry.UserID = "user-7"
	if err := rec.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"plugin invocation", "hello@1.0.0", "greet", "user-7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogRecorderFailureLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := NewLogRecorder(logger)

	entry := testEntry("hello@1.0.0", "greet", false)
	entry.ErrorKind = "timeout"
	if err := rec.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "WARN") {
		t.Errorf("failed invocation should log at WARN: %s", out)
	}
	if !strings.Contains(out, "timeout") {
		t.Errorf("log output missing error kind: %s", out)
	}
}

func TestFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	rec, err := NewFileRecorder(FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileRecorder() error = %v", err)
	}

	if err := rec.Record(context.Background(), testEntry("hello@1.0.0", "greet", true)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(data), "hello@1.0.0") {
		t.Errorf("audit file missing entry: %s", data)
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("newRotatingWriter() error = %v", err)
	}
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	if _, err := w.Write(chunk); err != nil {
		t.Fatalf("Write() first chunk error = %v", err)
	}
	if _, err := w.Write(chunk); err != nil {
		t.Fatalf("Write() second chunk error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("active log missing after rotation: %v", err)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("rotated backup missing: %v", err)
	}
}
