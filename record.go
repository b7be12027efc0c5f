package warden

import (
	"sort"
	"time"

	"github.com/dshills/warden/api"
	"github.com/dshills/warden/security"
)

// PluginRecord is the catalog row for one plugin. Identity is the
// (name, version) pair. Owned exclusively by the Registry; mutated only
// through lifecycle transitions; destroyed on uninstall.
type PluginRecord struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Manifest *Manifest `json:"manifest"`

	// Checksum is the content hash recorded at validation time, used
	// for tamper detection before dispatch.
	Checksum string `json:"checksum"`

	// ArtifactPath locates the persisted plugin source.
	ArtifactPath string `json:"artifact_path"`

	// AllowedDomains is the administrator-managed outbound host
	// allow-list. Plugins cannot modify it.
	AllowedDomains []string `json:"allowed_domains"`

	Status Status `json:"status"`

	InstalledBy string    `json:"installed_by"`
	InstalledAt time.Time `json:"installed_at"`
	EnabledAt   time.Time `json:"enabled_at"`

	// InstallHookRan records that onInstall already ran; only the very
	// first enable after install runs it.
	InstallHookRan bool `json:"install_hook_ran"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ID returns the registry identity: name@version.
func (r *PluginRecord) ID() string {
	return PluginID(r.Name, r.Version)
}

// Clone creates a deep copy so callers can't mutate registry state.
func (r *PluginRecord) Clone() *PluginRecord {
	clone := *r
	if r.Manifest != nil {
		clone.Manifest = r.Manifest.Clone()
	}
	if r.AllowedDomains != nil {
		clone.AllowedDomains = make([]string, len(r.AllowedDomains))
		copy(clone.AllowedDomains, r.AllowedDomains)
	}
	return &clone
}

// ExecutionContext carries the per-invocation inputs to the sandbox.
// Created fresh for every call; never persisted as a whole, only
// summarized into the audit record.
type ExecutionContext struct {
	// PluginID is the name@version identity being invoked.
	PluginID string `json:"plugin_id"`

	// UserID identifies the user on whose behalf the call runs.
	UserID string `json:"user_id"`

	// User carries the richer identity surfaced to plugins holding the
	// user_data capability. Optional; UserID alone suffices for auditing.
	User *api.Identity `json:"user,omitempty"`

	// Permissions is the granted subset for this invocation. Must be a
	// subset of the plugin's declared permissions; the coordinator
	// rejects the call otherwise.
	Permissions []security.Capability `json:"permissions"`

	// Config is host-provided plugin configuration.
	Config map[string]interface{} `json:"config,omitempty"`

	// Data is transient invocation payload (hook arguments and the like).
	Data map[string]interface{} `json:"data,omitempty"`
}

// Snapshot summarizes the context for the audit record. Config and
// data values are reduced to their keys; permissions and identity are
// kept verbatim.
func (ec *ExecutionContext) Snapshot() map[string]interface{} {
	perms := make([]string, len(ec.Permissions))
	for i, p := range ec.Permissions {
		perms[i] = string(p)
	}
	sort.Strings(perms)

	return map[string]interface{}{
		"user_id":     ec.UserID,
		"permissions": perms,
		"config_keys": sortedKeys(ec.Config),
		"data_keys":   sortedKeys(ec.Data),
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metrics are the per-invocation resource measurements.
type Metrics struct {
	// Elapsed is wall-clock time from dispatch to resolution.
	Elapsed time.Duration `json:"elapsed"`

	// MemoryBytes is the worker heap estimate sampled at completion.
	MemoryBytes int64 `json:"memory_bytes"`

	// Instructions counts host-call boundary work, the engine's proxy
	// for CPU consumption.
	Instructions int64 `json:"instructions"`
}

// ExecutionResult is the outcome of exactly one invocation. Immutable
// once produced; returned to the caller and persisted as an audit record.
type ExecutionResult struct {
	// ID correlates the result with its audit record.
	ID string `json:"id"`

	Success bool `json:"success"`

	// Value is the plugin's return value, when it returned one.
	Value interface{} `json:"value,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`

	// ErrorKind classifies the failure for the host.
	ErrorKind Kind `json:"error_kind,omitempty"`

	// Logs are the plugin's print/log lines, in emission order.
	Logs []string `json:"logs,omitempty"`

	Metrics Metrics `json:"metrics"`
}
