package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func awaitChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case c := <-w.Changes():
		return c
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
	return Change{}
}

func mkPlugin(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestNewRejectsMissingRoot(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("New() accepted a missing root")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("New() accepted a file as root")
	}
}

func TestFileWriteReportsPluginDir(t *testing.T) {
	root := t.TempDir()
	dir := mkPlugin(t, root, "greeter")
	w := newTestWatcher(t, root)

	if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte("-- v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := awaitChange(t, w)
	if c.Dir != dir {
		t.Errorf("Change.Dir = %q, want %q", c.Dir, dir)
	}
	if c.Removed {
		t.Error("Change.Removed = true for a write")
	}
}

func TestBurstCoalesces(t *testing.T) {
	root := t.TempDir()
	dir := mkPlugin(t, root, "bursty")
	w := newTestWatcher(t, root)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	awaitChange(t, w)

	// The burst landed inside one debounce window; no second change
	// should follow.
	select {
	case c := <-w.Changes():
		t.Errorf("unexpected second change for %q", c.Dir)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewPluginDirectoryPickedUp(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	dir := mkPlugin(t, root, "latecomer")

	c := awaitChange(t, w)
	if c.Dir != dir {
		t.Errorf("Change.Dir = %q, want %q", c.Dir, dir)
	}

	// Writes inside the new directory must also be seen.
	if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte("return 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	c = awaitChange(t, w)
	if c.Dir != dir {
		t.Errorf("Change.Dir after write = %q, want %q", c.Dir, dir)
	}
}

func TestRemovalReported(t *testing.T) {
	root := t.TempDir()
	dir := mkPlugin(t, root, "doomed")
	w := newTestWatcher(t, root)

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	// File deletions inside the directory and the directory removal
	// itself may arrive as separate changes; the removal must be among
	// them.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-w.Changes():
			if c.Dir == dir && c.Removed {
				return
			}
		case <-deadline:
			t.Fatal("directory removal never reported")
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, ok := <-w.Changes(); ok {
		t.Error("Changes() open after Close")
	}
}
