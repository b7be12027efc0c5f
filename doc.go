// Package warden is a sandboxed plugin execution engine for a CMS.
//
// Plugins are Lua scripts that run inside pooled, resource-limited
// interpreter states and reach the host only through capability-gated
// API modules. The engine covers the full plugin lifecycle:
//   - Static validation of source and metadata before anything runs
//   - Registration, installation, enable/disable, uninstallation
//   - Dispatch onto a fixed pool of sandbox workers
//   - Per-invocation capability gating and resource budgets
//   - An audit record for every invocation, however it ends
//
// # Quick Start
//
// Wire an engine from explicit backends and run a plugin:
//
//	eng, err := warden.New(warden.Config{}, warden.Deps{
//	    Catalog:   store.NewMemoryCatalog(),
//	    KV:        store.NewMemoryKV(),
//	    Artifacts: artifacts, // store.NewFSArtifacts(dir)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Shutdown(context.Background())
//
//	reg := eng.Registry()
//	rec, err := reg.Register(ctx, source, metadata)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := reg.Install(ctx, rec.ID(), "admin"); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := reg.Enable(ctx, rec.ID()); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.Execute(ctx, warden.Invocation{
//	    PluginID: rec.ID(),
//	    Method:   "handleRequest",
//	    Args:     []interface{}{"hello"},
//	    Context: &warden.ExecutionContext{
//	        Permissions: rec.Manifest.Permissions,
//	    },
//	})
//
// # Plugin Structure
//
// A plugin is a directory holding a manifest and a main Lua file:
//
//	plugins/seo-toolkit/
//	├── plugin.json      # Manifest (required)
//	└── init.lua         # Entry point
//
// Loader discovers such directories; Engine.LoadDirectory registers
// every new plugin it finds.
//
// # Manifest
//
// The plugin.json manifest describes the plugin:
//
//	{
//	  "name": "seo-toolkit",
//	  "version": "1.2.0",
//	  "displayName": "SEO Toolkit",
//	  "description": "Keyword analysis for posts",
//	  "main": "init.lua",
//	  "permissions": ["database_read", "database_write", "network_access"],
//	  "hooks": ["onInstall", "onUninstall"]
//	}
//
// # Capabilities
//
// Plugins must declare required capabilities in their manifest, and
// each invocation grants a subset of the declared set. The set of
// capability names is closed.
//
// Storage capabilities:
//   - database_read: Read the plugin's namespaced key-value storage
//   - database_write: Write the plugin's namespaced key-value storage
//
// Network capabilities:
//   - network_access: Outbound HTTP, restricted to allow-listed domains
//
// Platform capabilities:
//   - notifications: Publish events on the host notification bus
//   - user_data: See the invoking user's identity
//   - analytics: Record anonymous usage counters
//   - system_info: Read coarse host information
//   - file_read, file_write: Reserved for gated file helpers; direct
//     filesystem primitives are always denied regardless
//
// # Plugin Lifecycle
//
// Plugins move through these states:
//
//	Register() -> StatusValidated
//	StatusValidated -> Install() -> StatusInstalled
//	StatusInstalled -> Enable()  -> StatusEnabled   (runs onInstall once)
//	StatusEnabled   -> Disable() -> StatusDisabled
//	StatusDisabled  -> Enable()  -> StatusEnabled
//	any             -> Uninstall()                  (runs onUninstall when enabled)
//
// Only enabled plugins are dispatchable. Lifecycle hooks run as
// ordinary sandboxed invocations; a hook failure leaves the plugin's
// state unchanged.
//
// # Architecture
//
// The engine consists of several components:
//
//   - Engine: Composition root wiring the rest over injected backends
//   - Registry: Plugin lifecycle (register, install, enable, uninstall)
//   - Validator: Static source and metadata checks before registration
//   - Coordinator: Per-invocation orchestration, timeouts, auditing
//   - Pool: Fixed set of sandbox workers with crash replacement
//   - api.Gate: Builds a fresh capability-scoped API per invocation
//   - Bus: Synchronous notification bus for host subscribers
//
// # Security
//
// Plugins run in a sandboxed Lua environment with:
//   - Dangerous stdlib removed (io, os.execute, load, dofile, require)
//   - A static deny-list scan that rejects forbidden constructs at
//     registration, reporting every violation at once
//   - Capability checks on every gated call, never at bind time
//   - A host-call instruction budget and an advisory memory ceiling
//   - Execution deadlines that forcibly retire the worker on overrun
//   - Checksum verification of the stored artifact before each run
//
// # Available API Modules
//
// Scoped API modules are installed as globals for each invocation:
//   - storage: Namespaced key-value persistence (get, set, delete, keys)
//   - http: Outbound GET requests to allow-listed domains
//   - events: Publish notifications on the host bus
//   - user: The invoking user's identity, or nil without user_data
//   - system: Host name, version, and platform
//   - analytics: Anonymous usage counters
//   - log: Structured logging into the invocation's audit record
//   - timers: Clamped sleep and elapsed-time helpers
//
// A config global carries per-invocation configuration when present.
//
// # Example Plugin
//
//	-- init.lua
//
//	function onInstall()
//	    storage.set("installs", (storage.get("installs") or 0) + 1)
//	end
//
//	function handleRequest(path)
//	    log.info("handling " .. path)
//	    local cached = storage.get("page:" .. path)
//	    if cached then
//	        return cached
//	    end
//	    local resp = http.get("https://api.example.com/render?p=" .. path)
//	    storage.set("page:" .. path, resp.body, 300)
//	    events.publish("page.rendered", { path = path })
//	    return resp.body
//	end
package warden
