package warden

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ManifestFileName is the metadata document every plugin directory
// must contain.
const ManifestFileName = "plugin.json"

// DiscoveredPlugin is one plugin directory found during a scan. When
// Err is set the directory looked like a plugin but could not be
// loaded; the other fields hold whatever was readable.
type DiscoveredPlugin struct {
	Dir      string
	Manifest *Manifest
	Metadata []byte
	Source   []byte
	Err      error
}

// ID returns the manifest identity, or the directory path when the
// manifest never parsed.
func (d *DiscoveredPlugin) ID() string {
	if d.Manifest != nil {
		return d.Manifest.ID()
	}
	return d.Dir
}

// Loader finds plugin directories under one or more search paths. A
// plugin directory is any immediate subdirectory holding a
// plugin.json. When the same plugin appears in several search paths
// the first path wins, so callers can layer local overrides ahead of
// shared installations.
type Loader struct {
	paths []string
}

// NewLoader creates a loader over the given search paths, scanned in
// order.
func NewLoader(paths ...string) *Loader {
	return &Loader{paths: paths}
}

// AddPath appends a search path.
func (l *Loader) AddPath(path string) {
	l.paths = append(l.paths, path)
}

// Discover scans the search paths and returns every plugin directory
// found, sorted by plugin identity. Missing search paths are skipped;
// a broken plugin directory is reported through its entry's Err rather
// than aborting the scan.
func (l *Loader) Discover() []*DiscoveredPlugin {
	var found []*DiscoveredPlugin
	seen := make(map[string]bool)

	for _, path := range l.paths {
		entries, err := os.ReadDir(path)
		if err != nil {
			// Search paths are optional; a path that does not exist
			// simply contributes nothing.
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(path, entry.Name())
			info := l.inspect(dir)
			if info == nil {
				continue
			}
			if info.Manifest != nil {
				id := info.Manifest.ID()
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			found = append(found, info)
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].ID() < found[j].ID()
	})
	return found
}

// inspect reads one candidate directory. A directory without a
// plugin.json and without any Lua source is not a plugin and yields
// nil; one with Lua source but no manifest is a plugin missing its
// metadata.
func (l *Loader) inspect(dir string) *DiscoveredPlugin {
	metadata, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return &DiscoveredPlugin{Dir: dir, Err: err}
		}
		if !hasLuaSource(dir) {
			return nil
		}
		return &DiscoveredPlugin{Dir: dir, Err: ErrMetadataMissing}
	}

	info := &DiscoveredPlugin{Dir: dir, Metadata: metadata}

	m, err := ParseManifest(metadata)
	if err != nil {
		info.Err = err
		return info
	}
	info.Manifest = m

	source, err := os.ReadFile(filepath.Join(dir, m.Main))
	if err != nil {
		info.Err = err
		return info
	}
	info.Source = source
	return info
}

// hasLuaSource reports whether dir contains at least one .lua file.
func hasLuaSource(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".lua" {
			return true
		}
	}
	return false
}

// LoadDirectory discovers plugins under root and registers each one
// that is not already known. Broken directories and duplicates are
// logged and skipped. It returns the number of plugins registered.
func (e *Engine) LoadDirectory(ctx context.Context, root string) (int, error) {
	loader := NewLoader(root)
	registered := 0

	for _, d := range loader.Discover() {
		if err := ctx.Err(); err != nil {
			return registered, err
		}
		if d.Err != nil {
			e.logger.Warn("skipping plugin directory",
				"dir", d.Dir,
				"error", d.Err)
			continue
		}
		if _, err := e.registry.Register(ctx, d.Source, d.Metadata); err != nil {
			if errors.Is(err, ErrAlreadyInstalled) {
				continue
			}
			e.logger.Warn("plugin registration failed",
				"plugin", d.Manifest.ID(),
				"dir", d.Dir,
				"error", err)
			continue
		}
		registered++
		e.logger.Info("plugin registered from disk",
			"plugin", d.Manifest.ID(),
			"dir", d.Dir)
	}
	return registered, nil
}
