package warden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Lifecycle hook names. A plugin opts in by listing the hook in its
// manifest and defining a global function of the same name.
const (
	HookInstall   = "onInstall"
	HookUninstall = "onUninstall"
)

// Registry owns plugin lifecycle state: registration, install, enable,
// disable, and uninstall. Transitions are serialized; two concurrent
// calls cannot race a plugin through conflicting states.
type Registry struct {
	catalog   Catalog
	kv        KV
	artifacts ArtifactStore
	validator *Validator
	coord     *Coordinator
	bus       *Bus
	logger    *slog.Logger

	mu sync.Mutex
}

// NewRegistry wires a registry over its dependencies. A nil bus
// disables lifecycle announcements.
func NewRegistry(catalog Catalog, kv KV, artifacts ArtifactStore, coord *Coordinator, bus *Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		catalog:   catalog,
		kv:        kv,
		artifacts: artifacts,
		validator: NewValidator(),
		coord:     coord,
		bus:       bus,
		logger:    logger,
	}
}

// announce publishes a lifecycle event so host subscribers can react
// to plugins appearing, changing state, or going away.
func (r *Registry) announce(id, topic string) {
	if r.bus != nil {
		r.bus.Publish(id, topic, nil)
	}
}

// Register validates a plugin artifact and records it. The artifact is
// staged but not yet installed; a record in the validated state is the
// only durable effect.
func (r *Registry) Register(ctx context.Context, source, metadata []byte) (*PluginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.validator.Validate(source, metadata)
	if err != nil {
		return nil, err
	}

	// Check identity before touching the artifact store; staging over
	// an installed plugin must never happen.
	id := res.Manifest.ID()
	if _, err := r.catalog.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInstalled, id)
	} else if !errors.Is(err, ErrPluginNotFound) {
		return nil, err
	}

	path, err := r.artifacts.Stage(ctx, id, metadata, source)
	if err != nil {
		return nil, err
	}

	rec := &PluginRecord{
		Name:     res.Manifest.Name,
		Version:  res.Manifest.Version,
		Manifest: res.Manifest,
		Checksum: res.Checksum,

		ArtifactPath: path,
		Status:       StatusValidated,
	}

	if err := r.catalog.Create(ctx, rec); err != nil {
		r.logger.Warn("staged artifact orphaned by catalog failure", "plugin", id, "error", err)
		return nil, err
	}

	r.logger.Info("plugin registered", "plugin", id, "checksum", res.Checksum)
	r.announce(id, "plugin.registered")
	return rec.Clone(), nil
}

// Install promotes a validated plugin's artifact into the live area and
// marks the record installed. Only the validated state installs.
func (r *Registry) Install(ctx context.Context, id, installedBy string) (*PluginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanTransitionTo(StatusInstalled) {
		return nil, fmt.Errorf("%w: cannot install plugin in state %s", ErrInvalidTransition, rec.Status)
	}

	path, err := r.artifacts.Promote(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.ArtifactPath = path
	rec.Status = StatusInstalled
	rec.InstalledBy = installedBy
	rec.InstalledAt = time.Now().UTC()

	if err := r.catalog.Update(ctx, rec); err != nil {
		return nil, err
	}

	r.logger.Info("plugin installed", "plugin", id, "by", installedBy)
	r.announce(id, "plugin.installed")
	return rec.Clone(), nil
}

// Enable makes a plugin dispatchable. The very first enable after
// install runs the plugin's onInstall hook, exactly once over the
// record's lifetime; a failing hook rolls the state back.
func (r *Registry) Enable(ctx context.Context, id string) (*PluginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanTransitionTo(StatusEnabled) {
		return nil, fmt.Errorf("%w: cannot enable plugin in state %s", ErrInvalidTransition, rec.Status)
	}

	previous := rec.Status
	rec.Status = StatusEnabled
	rec.EnabledAt = time.Now().UTC()
	if err := r.catalog.Update(ctx, rec); err != nil {
		return nil, err
	}

	// Hooks dispatch like any other invocation, which requires the
	// enabled state to already be visible. A hook failure reverts it.
	if !rec.InstallHookRan {
		if err := r.runHook(ctx, rec, HookInstall); err != nil {
			rec.Status = previous
			rec.EnabledAt = time.Time{}
			if revertErr := r.catalog.Update(ctx, rec); revertErr != nil {
				r.logger.Error("enable rollback failed", "plugin", id, "error", revertErr)
			}
			return nil, err
		}
		rec.InstallHookRan = true
		if err := r.catalog.Update(ctx, rec); err != nil {
			return nil, err
		}
	}

	r.logger.Info("plugin enabled", "plugin", id)
	r.announce(id, "plugin.enabled")
	return rec.Clone(), nil
}

// Disable stops dispatch to a plugin without touching its artifact or
// stored data.
func (r *Registry) Disable(ctx context.Context, id string) (*PluginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanTransitionTo(StatusDisabled) {
		return nil, fmt.Errorf("%w: cannot disable plugin in state %s", ErrInvalidTransition, rec.Status)
	}

	rec.Status = StatusDisabled
	if err := r.catalog.Update(ctx, rec); err != nil {
		return nil, err
	}

	r.logger.Info("plugin disabled", "plugin", id)
	r.announce(id, "plugin.disabled")
	return rec.Clone(), nil
}

// Uninstall removes a plugin entirely. An enabled plugin gets its
// onUninstall hook first, while it can still run; a failing hook aborts
// the uninstall with the record untouched. Cleanup then proceeds in a
// fixed order: artifact, stored data, record. Interrupting the sequence
// leaves the record in place so the operation can be retried.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.catalog.Get(ctx, id)
	if err != nil {
		return err
	}

	if rec.Status == StatusEnabled {
		if err := r.runHook(ctx, rec, HookUninstall); err != nil {
			return err
		}
	}

	if err := r.artifacts.Remove(ctx, id); err != nil {
		return err
	}
	if err := r.kv.ClearNamespace(ctx, id); err != nil {
		return err
	}
	if err := r.catalog.Delete(ctx, id); err != nil {
		return err
	}

	r.coord.forgetLimiter(id)
	r.logger.Info("plugin uninstalled", "plugin", id)
	r.announce(id, "plugin.uninstalled")
	return nil
}

// SetAllowedDomains replaces the administrator-managed outbound host
// allow-list for a plugin. Plugins themselves have no path to this.
func (r *Registry) SetAllowedDomains(ctx context.Context, id string, domains []string) (*PluginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	normalized := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		normalized = append(normalized, d)
	}
	sort.Strings(normalized)

	rec.AllowedDomains = normalized
	if err := r.catalog.Update(ctx, rec); err != nil {
		return nil, err
	}

	r.logger.Info("plugin allow-list updated", "plugin", id, "domains", normalized)
	return rec.Clone(), nil
}

// Get returns the record for a plugin identity.
func (r *Registry) Get(ctx context.Context, id string) (*PluginRecord, error) {
	return r.catalog.Get(ctx, id)
}

// List returns all plugin records ordered by identity.
func (r *Registry) List(ctx context.Context) ([]*PluginRecord, error) {
	return r.catalog.List(ctx)
}

// runHook dispatches a lifecycle hook through the coordinator. Hooks a
// plugin never declared are skipped. The hook runs with the plugin's
// full declared permission set and no user identity.
func (r *Registry) runHook(ctx context.Context, rec *PluginRecord, hook string) error {
	if rec.Manifest == nil || !rec.Manifest.DeclaresHook(hook) {
		return nil
	}

	id := rec.ID()
	result, err := r.coord.Execute(ctx, Invocation{
		PluginID: id,
		Method:   hook,
		Context: &ExecutionContext{
			PluginID:    id,
			Permissions: rec.Manifest.Permissions,
		},
	})
	if err != nil {
		return &HookError{PluginID: id, Hook: hook, Err: err}
	}
	if !result.Success {
		return &HookError{PluginID: id, Hook: hook, Err: errors.New(result.Error)}
	}
	return nil
}
