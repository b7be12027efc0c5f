package lua

import (
	"strings"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

func TestNewSandbox(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	sandbox := NewSandbox(L)
	if sandbox == nil {
		t.Error("NewSandbox() returned nil")
	}
	if sandbox.L != L {
		t.Error("NewSandbox() has wrong LState")
	}
}

func TestSandboxInstall(t *testing.T) {
	// Full default state, all libraries open
	L := glua.NewState()
	defer L.Close()

	sandbox := NewSandbox(L)
	sandbox.Install()

	removed := []string{"dofile", "loadfile", "load", "loadstring", "io", "os", "debug"}
	for _, name := range removed {
		v := L.GetGlobal(name)
		if v != glua.LNil {
			t.Errorf("%s should be removed, got %T", name, v)
		}
	}
}

func TestSandboxSafeRequire(t *testing.T) {
	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	defer L.Close()
	glua.OpenBase(L)
	glua.OpenPackage(L) // Need package for require
	glua.OpenString(L)
	glua.OpenTable(L)
	glua.OpenMath(L)

	sandbox := NewSandbox(L)
	sandbox.Install()

	for _, mod := range []string{"string", "table", "math"} {
		err := L.DoString(`local m = require("` + mod + `")`)
		if err != nil {
			t.Errorf("require(%q) failed: %v", mod, err)
		}
	}
}

func TestSandboxRequireDenied(t *testing.T) {
	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	defer L.Close()
	glua.OpenBase(L)
	glua.OpenPackage(L)

	sandbox := NewSandbox(L)
	sandbox.Install()

	// No capability ever unlocks these
	for _, mod := range []string{"io", "os", "debug", "socket", "lfs"} {
		err := L.DoString(`require("` + mod + `")`)
		if err == nil {
			t.Errorf("require(%q) should fail", mod)
			continue
		}
		if !strings.Contains(err.Error(), "not available") {
			t.Errorf("require(%q) error = %v, want 'not available'", mod, err)
		}
	}
}

func TestSandboxPrintCapture(t *testing.T) {
	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	defer L.Close()
	glua.OpenBase(L)

	sandbox := NewSandbox(L)
	sandbox.Install()

	var lines []string
	sandbox.SetPrintCapture(func(line string) {
		lines = append(lines, line)
	})

	err := L.DoString(`print("hello"); print("a", 1, true)`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("captured %d lines, want 2", len(lines))
	}
	if lines[0] != "hello" {
		t.Errorf("lines[0] = %q, want %q", lines[0], "hello")
	}
	if lines[1] != "a\t1\ttrue" {
		t.Errorf("lines[1] = %q, want %q", lines[1], "a\t1\ttrue")
	}
}

func TestSandboxPrintCaptureCleared(t *testing.T) {
	L := glua.NewState(glua.Options{SkipOpenLibs: true})
	defer L.Close()
	glua.OpenBase(L)

	sandbox := NewSandbox(L)
	sandbox.Install()

	var lines []string
	sandbox.SetPrintCapture(func(line string) {
		lines = append(lines, line)
	})
	sandbox.SetPrintCapture(nil)

	err := L.DoString(`print("discarded")`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	if len(lines) != 0 {
		t.Errorf("captured %d lines after clearing capture, want 0", len(lines))
	}
}
