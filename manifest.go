package warden

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dshills/warden/security"
)

// Manifest describes a plugin's metadata and requested permissions.
// Immutable once validated; every update to a plugin re-validates the
// whole manifest from scratch.
type Manifest struct {
	// Identity
	Name        string `json:"name"`        // Unique identifier (e.g., "seo-toolkit")
	Version     string `json:"version"`     // Strict semver (e.g., "1.2.0")
	DisplayName string `json:"displayName"` // Human-readable name
	Description string `json:"description"` // Short description
	Author      string `json:"author"`      // Author name or org
	License     string `json:"license"`     // SPDX license identifier
	Homepage    string `json:"homepage"`    // URL to plugin homepage

	// Entry point
	Main string `json:"main"` // Relative path to main Lua file (default: "init.lua")

	// Permissions requested. Runtime grants must be a subset of these.
	Permissions []security.Capability `json:"permissions"`

	// Dependencies maps plugin name to a version range expression.
	Dependencies map[string]string `json:"dependencies"`

	// Hooks lists the host hook points this plugin subscribes to.
	Hooks []string `json:"hooks"`

	// Internal: path to the plugin directory
	path string
}

// Field limits.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// Validation errors. Each wraps ErrMetadataInvalid so callers can
// classify with errors.Is.
var (
	ErrMissingName       = fmt.Errorf("%w: name is required", ErrMetadataInvalid)
	ErrInvalidName       = fmt.Errorf("%w: name must be a lowercase alphanumeric slug", ErrMetadataInvalid)
	ErrNameTooLong       = fmt.Errorf("%w: name exceeds %d characters", ErrMetadataInvalid, MaxNameLength)
	ErrMissingVersion    = fmt.Errorf("%w: version is required", ErrMetadataInvalid)
	ErrInvalidVersion    = fmt.Errorf("%w: version must be major.minor.patch", ErrMetadataInvalid)
	ErrDescriptionLength = fmt.Errorf("%w: description exceeds %d characters", ErrMetadataInvalid, MaxDescriptionLength)
	ErrInvalidMain       = fmt.Errorf("%w: main must be a .lua file", ErrMetadataInvalid)
	ErrInvalidPermission = fmt.Errorf("%w: unknown permission", ErrMetadataInvalid)
	ErrInvalidDependency = fmt.Errorf("%w: invalid dependency", ErrMetadataInvalid)
	ErrInvalidHookName   = fmt.Errorf("%w: invalid hook name", ErrMetadataInvalid)
)

// namePattern validates plugin names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// semverPattern validates version strings. Strict major.minor.patch,
// no prerelease or build suffixes.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// hookNamePattern validates hook point names.
var hookNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.]*$`)

// ParseManifest parses and validates a raw metadata block.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, ErrMetadataMissing
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataInvalid, err)
	}

	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifest loads and validates a plugin manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	// Set the path to the plugin directory
	m.path = filepath.Dir(path)
	return m, nil
}

// LoadManifestFromDir loads a manifest from a plugin directory.
// Looks for plugin.json in the directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, "plugin.json"))
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = "init.lua"
	}
}

// Validate checks that the manifest conforms to the metadata schema.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if len(m.Name) > MaxNameLength {
		return fmt.Errorf("%w: %s", ErrNameTooLong, m.Name)
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	if len(m.Description) > MaxDescriptionLength {
		return ErrDescriptionLength
	}

	if m.Main != "" && filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}

	for _, perm := range m.Permissions {
		if !security.IsValidCapability(perm) {
			return fmt.Errorf("%w: %s", ErrInvalidPermission, perm)
		}
	}

	for name, rng := range m.Dependencies {
		if !namePattern.MatchString(name) || len(name) > MaxNameLength {
			return fmt.Errorf("%w: bad plugin name %q", ErrInvalidDependency, name)
		}
		if rng == "" {
			return fmt.Errorf("%w: %s has empty version range", ErrInvalidDependency, name)
		}
	}

	for _, hook := range m.Hooks {
		if !hookNamePattern.MatchString(hook) {
			return fmt.Errorf("%w: %q", ErrInvalidHookName, hook)
		}
	}

	return nil
}

// ID returns the registry identity for this manifest: the (name,
// version) pair joined with "@".
func (m *Manifest) ID() string {
	return PluginID(m.Name, m.Version)
}

// PluginID builds the registry identity for a (name, version) pair.
func PluginID(name, version string) string {
	return name + "@" + version
}

// Path returns the path to the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path to the main Lua file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// HasPermission returns true if the plugin declares the permission.
func (m *Manifest) HasPermission(cap security.Capability) bool {
	for _, c := range m.Permissions {
		if c == cap {
			return true
		}
	}
	return false
}

// DeclaresHook returns true if the plugin subscribes to the hook point.
func (m *Manifest) DeclaresHook(name string) bool {
	for _, h := range m.Hooks {
		if h == name {
			return true
		}
	}
	return false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	display := m.DisplayName
	if display == "" {
		display = m.Name
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m

	if m.Permissions != nil {
		clone.Permissions = make([]security.Capability, len(m.Permissions))
		copy(clone.Permissions, m.Permissions)
	}

	if m.Dependencies != nil {
		clone.Dependencies = make(map[string]string, len(m.Dependencies))
		for k, v := range m.Dependencies {
			clone.Dependencies[k] = v
		}
	}

	if m.Hooks != nil {
		clone.Hooks = make([]string, len(m.Hooks))
		copy(clone.Hooks, m.Hooks)
	}

	return &clone
}
