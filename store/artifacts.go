package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/warden"
)

const (
	manifestFile = "plugin.json"
	sourceFile   = "source.lua"

	stagingDir = "staging"
	pluginsDir = "plugins"
)

// FSArtifacts stores plugin artifacts on the local filesystem. Staged
// artifacts live under <base>/staging/<id> and promoted ones under
// <base>/plugins/<id>. Both writes and promotion go through rename so a
// crash never leaves a half-written artifact in place.
type FSArtifacts struct {
	base string
}

// NewFSArtifacts creates the artifact root and its staging and plugins
// areas if they do not exist.
func NewFSArtifacts(base string) (*FSArtifacts, error) {
	for _, dir := range []string{base, filepath.Join(base, stagingDir), filepath.Join(base, pluginsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create artifact dir %s: %v", warden.ErrStorageFailure, dir, err)
		}
	}
	return &FSArtifacts{base: base}, nil
}

// Stage implements warden.ArtifactStore. The artifact is written to a
// temporary directory first and renamed into the staging area, replacing
// any previous staging of the same plugin.
func (f *FSArtifacts) Stage(_ context.Context, id string, manifest, source []byte) (string, error) {
	if !validArtifactID(id) {
		return "", fmt.Errorf("%w: invalid artifact id %q", warden.ErrStorageFailure, id)
	}

	tmp, err := os.MkdirTemp(f.base, "stage-*")
	if err != nil {
		return "", fmt.Errorf("%w: create staging temp: %v", warden.ErrStorageFailure, err)
	}
	defer os.RemoveAll(tmp)

	if err := os.WriteFile(filepath.Join(tmp, manifestFile), manifest, 0o644); err != nil {
		return "", fmt.Errorf("%w: write manifest: %v", warden.ErrStorageFailure, err)
	}
	if err := os.WriteFile(filepath.Join(tmp, sourceFile), source, 0o644); err != nil {
		return "", fmt.Errorf("%w: write source: %v", warden.ErrStorageFailure, err)
	}

	dest := filepath.Join(f.base, stagingDir, id)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("%w: clear staging %s: %v", warden.ErrStorageFailure, id, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("%w: stage %s: %v", warden.ErrStorageFailure, id, err)
	}
	return dest, nil
}

// Promote implements warden.ArtifactStore. Moves a staged artifact into
// the plugins area, replacing any previous installation of the same id.
func (f *FSArtifacts) Promote(_ context.Context, id string) (string, error) {
	if !validArtifactID(id) {
		return "", fmt.Errorf("%w: invalid artifact id %q", warden.ErrStorageFailure, id)
	}

	src := filepath.Join(f.base, stagingDir, id)
	dest := filepath.Join(f.base, pluginsDir, id)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			// A crash after a previous promote can leave the staged copy
			// gone with the live one in place; promoting again is a no-op.
			if _, destErr := os.Stat(dest); destErr == nil {
				return dest, nil
			}
		}
		return "", fmt.Errorf("%w: staged artifact %s: %v", warden.ErrStorageFailure, id, err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("%w: clear plugin dir %s: %v", warden.ErrStorageFailure, id, err)
	}
	if err := os.Rename(src, dest); err != nil {
		return "", fmt.Errorf("%w: promote %s: %v", warden.ErrStorageFailure, id, err)
	}
	return dest, nil
}

// ReadSource implements warden.ArtifactStore. Reads from the plugins
// area first and falls back to staging so validated-but-not-installed
// plugins can still be inspected.
func (f *FSArtifacts) ReadSource(_ context.Context, id string) ([]byte, error) {
	return f.readFile(id, sourceFile)
}

// ReadManifest implements warden.ArtifactStore.
func (f *FSArtifacts) ReadManifest(_ context.Context, id string) ([]byte, error) {
	return f.readFile(id, manifestFile)
}

func (f *FSArtifacts) readFile(id, name string) ([]byte, error) {
	if !validArtifactID(id) {
		return nil, fmt.Errorf("%w: invalid artifact id %q", warden.ErrStorageFailure, id)
	}

	data, err := os.ReadFile(filepath.Join(f.base, pluginsDir, id, name))
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read %s for %s: %v", warden.ErrStorageFailure, name, id, err)
	}

	data, err = os.ReadFile(filepath.Join(f.base, stagingDir, id, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: artifact %s", warden.ErrPluginNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s for %s: %v", warden.ErrStorageFailure, name, id, err)
	}
	return data, nil
}

// Remove implements warden.ArtifactStore. Clears both the staged and
// promoted copies. Removing an id with no artifact is not an error.
func (f *FSArtifacts) Remove(_ context.Context, id string) error {
	if !validArtifactID(id) {
		return fmt.Errorf("%w: invalid artifact id %q", warden.ErrStorageFailure, id)
	}

	for _, dir := range []string{stagingDir, pluginsDir} {
		if err := os.RemoveAll(filepath.Join(f.base, dir, id)); err != nil {
			return fmt.Errorf("%w: remove artifact %s: %v", warden.ErrStorageFailure, id, err)
		}
	}
	return nil
}

var _ warden.ArtifactStore = (*FSArtifacts)(nil)

// validArtifactID rejects identities that could escape the artifact
// root. Registry identities are validated upstream; this guards direct
// library misuse.
func validArtifactID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
