package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/warden"
)

func TestFSArtifactsStagePromote(t *testing.T) {
	fs, err := NewFSArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArtifacts() error = %v", err)
	}
	ctx := context.Background()

	manifest := []byte(`{"name": "hello", "version": "1.0.0"}`)
	source := []byte(`function greet() return "hi" end`)

	staged, err := fs.Stage(ctx, "hello@1.0.0", manifest, source)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(staged, "plugin.json")); err != nil {
		t.Errorf("staged manifest missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(staged, "source.lua")); err != nil {
		t.Errorf("staged source missing: %v", err)
	}

	promoted, err := fs.Promote(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if promoted == staged {
		t.Error("Promote() returned the staging path")
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staging copy should be gone after promote")
	}

	got, err := fs.ReadSource(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
	if string(got) != string(source) {
		t.Errorf("ReadSource() = %q, want %q", got, source)
	}

	gotManifest, err := fs.ReadManifest(ctx, "hello@1.0.0")
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if string(gotManifest) != string(manifest) {
		t.Errorf("ReadManifest() = %q, want %q", gotManifest, manifest)
	}
}

func TestFSArtifactsReadStagedBeforePromote(t *testing.T) {
	fs, err := NewFSArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArtifacts() error = %v", err)
	}
	ctx := context.Background()

	source := []byte(`return 1`)
	if _, err := fs.Stage(ctx, "pending@0.1.0", []byte(`{}`), source); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	got, err := fs.ReadSource(ctx, "pending@0.1.0")
	if err != nil {
		t.Fatalf("ReadSource() before promote error = %v", err)
	}
	if string(got) != string(source) {
		t.Errorf("ReadSource() = %q, want %q", got, source)
	}
}

func TestFSArtifactsRestageReplaces(t *testing.T) {
	fs, err := NewFSArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArtifacts() error = %v", err)
	}
	ctx := context.Background()

	if _, err := fs.Stage(ctx, "twice@1.0.0", []byte(`{}`), []byte(`return 1`)); err != nil {
		t.Fatalf("Stage() first error = %v", err)
	}
	if _, err := fs.Stage(ctx, "twice@1.0.0", []byte(`{}`), []byte(`return 2`)); err != nil {
		t.Fatalf("Stage() second error = %v", err)
	}

	got, err := fs.ReadSource(ctx, "twice@1.0.0")
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
	if string(got) != "return 2" {
		t.Errorf("ReadSource() = %q, want the restaged content", got)
	}
}

func TestFSArtifactsPromoteUnstaged(t *testing.T) {
	fs, err := NewFSArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArtifacts() error = %v", err)
	}

	if _, err := fs.Promote(context.Background(), "never@1.0.0"); err == nil {
		t.Error("Promote() of unstaged artifact should fail")
	}
}

func TestFSArtifactsRemove(t *testing.T) {
	fs, err := NewFSArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArtifacts() error = %v", err)
	}
	ctx := context.Background()

	if _, err := fs.Stage(ctx, "gone@1.0.0", []byte(`{}`), []byte(`return 1`)); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if _, err := fs.Promote(ctx, "gone@1.0.0"); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	if err := fs.Remove(ctx, "gone@1.0.0"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := fs.ReadSource(ctx, "gone@1.0.0"); !errors.Is(err, warden.ErrPluginNotFound) {
		t.Errorf("ReadSource() after remove error = %v, want ErrPluginNotFound", err)
	}

	// Removing again is a no-op.
	if err := fs.Remove(ctx, "gone@1.0.0"); err != nil {
		t.Errorf("Remove() idempotent call error = %v", err)
	}
}

func TestFSArtifactsRejectsTraversal(t *testing.T) {
	fs, err := NewFSArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSArtifacts() error = %v", err)
	}
	ctx := context.Background()

	bad := []string{"", ".", "..", "../escape", "a/b", `a\b`}
	for _, id := range bad {
		if _, err := fs.Stage(ctx, id, []byte(`{}`), []byte(`return 1`)); err == nil {
			t.Errorf("Stage(%q) should reject the id", id)
		}
		if _, err := fs.ReadSource(ctx, id); err == nil {
			t.Errorf("ReadSource(%q) should reject the id", id)
		}
		if err := fs.Remove(ctx, id); err == nil {
			t.Errorf("Remove(%q) should reject the id", id)
		}
	}
}
