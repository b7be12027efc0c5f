// Package main is the warden command, an offline screening tool for
// plugin artifacts. It runs the same static validation the engine
// applies at registration, so plugin authors and administrators can
// check an artifact before an install is ever attempted.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/warden"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "validate":
		return cmdValidate(args[1:])
	case "inspect":
		return cmdInspect(args[1:])
	case "checksum":
		return cmdChecksum(args[1:])
	case "version", "-v", "--version":
		fmt.Printf("warden %s (%s)\n", version, commit)
		return 0
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "warden: unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Warden - plugin sandbox screening tool

Usage: warden <command> [options] <plugin-dir>...

Commands:
  validate   Run full static validation (metadata + source scan + checksum)
  inspect    Parse and print a plugin's metadata
  checksum   Print the content checksum of a plugin's source
  version    Show version information

Examples:
  warden validate ./plugins/seo-toolkit
  warden validate -q ./plugins/*
  warden inspect ./plugins/seo-toolkit
`)
}

// artifact is one plugin directory's readable contents.
type artifact struct {
	dir      string
	metadata []byte
	source   []byte
	manifest *warden.Manifest
}

// readArtifact loads a plugin directory. Manifest parse failures are
// returned alongside whatever was readable so inspect can still report
// partial information.
func readArtifact(dir string) (*artifact, error) {
	a := &artifact{dir: dir}

	metadata, err := os.ReadFile(filepath.Join(dir, warden.ManifestFileName))
	if err != nil {
		return a, fmt.Errorf("read %s: %w", warden.ManifestFileName, err)
	}
	a.metadata = metadata

	m, err := warden.ParseManifest(metadata)
	if err != nil {
		return a, err
	}
	a.manifest = m

	source, err := os.ReadFile(filepath.Join(dir, m.Main))
	if err != nil {
		return a, fmt.Errorf("read %s: %w", m.Main, err)
	}
	a.source = source
	return a, nil
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	quiet := fs.Bool("q", false, "Only print failures")
	fs.Parse(args)

	dirs := fs.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "warden validate: at least one plugin directory is required")
		return 2
	}

	validator := warden.NewValidator()
	failed := 0
	for _, dir := range dirs {
		a, err := readArtifact(dir)
		if err != nil {
			report(dir, err)
			failed++
			continue
		}

		res, err := validator.Validate(a.source, a.metadata)
		if err != nil {
			report(dir, err)
			failed++
			continue
		}
		if !*quiet {
			fmt.Printf("%s: ok %s %s\n", dir, res.Manifest.ID(), res.Checksum)
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d plugin(s) failed validation\n", failed, len(dirs))
		return 1
	}
	return 0
}

// report prints a validation failure, expanding aggregated source
// violations one per line.
func report(dir string, err error) {
	var verr *warden.ViolationError
	if errors.As(err, &verr) {
		fmt.Fprintf(os.Stderr, "%s: %d denied construct(s):\n", dir, len(verr.Violations))
		for _, v := range verr.Violations {
			fmt.Fprintf(os.Stderr, "  %s\n", v)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", dir, err)
}

func cmdInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)

	dirs := fs.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "warden inspect: at least one plugin directory is required")
		return 2
	}

	code := 0
	for _, dir := range dirs {
		a, err := readArtifact(dir)
		if a.manifest == nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", dir, err)
			code = 1
			continue
		}
		printManifest(dir, a.manifest)
	}
	return code
}

func printManifest(dir string, m *warden.Manifest) {
	fmt.Printf("%s:\n", dir)
	fmt.Printf("  id:          %s\n", m.ID())
	if m.DisplayName != "" {
		fmt.Printf("  display:     %s\n", m.DisplayName)
	}
	if m.Description != "" {
		fmt.Printf("  description: %s\n", m.Description)
	}
	if m.Author != "" {
		fmt.Printf("  author:      %s\n", m.Author)
	}
	if m.License != "" {
		fmt.Printf("  license:     %s\n", m.License)
	}
	fmt.Printf("  main:        %s\n", m.Main)

	if len(m.Permissions) > 0 {
		perms := make([]string, len(m.Permissions))
		for i, p := range m.Permissions {
			perms[i] = string(p)
		}
		sort.Strings(perms)
		fmt.Printf("  permissions: %s\n", strings.Join(perms, ", "))
	} else {
		fmt.Printf("  permissions: (none)\n")
	}

	if len(m.Dependencies) > 0 {
		deps := make([]string, 0, len(m.Dependencies))
		for name, rng := range m.Dependencies {
			deps = append(deps, name+" "+rng)
		}
		sort.Strings(deps)
		fmt.Printf("  depends on:  %s\n", strings.Join(deps, ", "))
	}
	if len(m.Hooks) > 0 {
		fmt.Printf("  hooks:       %s\n", strings.Join(m.Hooks, ", "))
	}
}

func cmdChecksum(args []string) int {
	fs := flag.NewFlagSet("checksum", flag.ExitOnError)
	fs.Parse(args)

	dirs := fs.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "warden checksum: at least one plugin directory is required")
		return 2
	}

	code := 0
	for _, dir := range dirs {
		a, err := readArtifact(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", dir, err)
			code = 1
			continue
		}
		fmt.Printf("%s  %s\n", warden.Checksum(a.source), dir)
	}
	return code
}
