// Package api builds the scoped host surface a plugin sees during one
// invocation.
//
// A Gate holds the long-lived backends (key-value storage, the outbound
// HTTP client, the event sink). Build assembles a fresh Scoped bundle
// for every invocation from the capability subset granted to it, so no
// capability decision outlives the invocation that made it. Each bundle
// member is a typed variant that enforces its own grant at call time;
// a missing grant denies the call, it does not hide the module.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// KV is the namespaced key-value backend plugin storage runs against.
// Implementations live in the store package.
type KV interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// EventSink receives events plugins publish on the notification bus.
type EventSink interface {
	Publish(source, topic string, payload map[string]interface{})
}

// AnalyticsSink receives anonymous usage counters.
type AnalyticsSink interface {
	Count(pluginID, name string, delta int64)
}

// HostInfo is the coarse host description exposed to plugins holding
// the system_info capability.
type HostInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// Hosts plugins can never reach regardless of the administrator's
// allow-list. Loopback and the cloud metadata endpoint.
var defaultBlockedHosts = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"0.0.0.0",
	"169.254.169.254",
}

// Gate builds scoped API bundles. One gate serves the whole engine; it
// is safe for concurrent use.
type Gate struct {
	kv        KV
	events    EventSink
	analytics AnalyticsSink
	client    *http.Client
	limits    security.ResourceLimits
	host      HostInfo
	blocked   []string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithEventSink routes plugin-published events to sink.
func WithEventSink(sink EventSink) GateOption {
	return func(g *Gate) { g.events = sink }
}

// WithAnalyticsSink routes plugin usage counters to sink.
func WithAnalyticsSink(sink AnalyticsSink) GateOption {
	return func(g *Gate) { g.analytics = sink }
}

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(client *http.Client) GateOption {
	return func(g *Gate) { g.client = client }
}

// WithLimits replaces the per-invocation resource limits.
func WithLimits(limits security.ResourceLimits) GateOption {
	return func(g *Gate) { g.limits = limits }
}

// WithHostInfo sets the host description exposed through system_info.
func WithHostInfo(info HostInfo) GateOption {
	return func(g *Gate) { g.host = info }
}

// WithBlockedHosts replaces the built-in block-list. The default blocks
// loopback and the cloud metadata endpoint.
func WithBlockedHosts(hosts ...string) GateOption {
	return func(g *Gate) { g.blocked = hosts }
}

// NewGate creates a gate over the given storage backend.
func NewGate(kv KV, opts ...GateOption) *Gate {
	g := &Gate{
		kv:      kv,
		client:  &http.Client{Timeout: 30 * time.Second},
		limits:  security.DefaultResourceLimits(),
		host:    HostInfo{Name: "warden"},
		blocked: defaultBlockedHosts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the per-invocation resource limits the gate applies.
func (g *Gate) Limits() security.ResourceLimits {
	return g.limits
}

// Request describes the invocation a bundle is built for.
type Request struct {
	PluginID string
	UserID   string

	// Granted is the capability subset this invocation runs with. The
	// coordinator has already verified it against the declared set.
	Granted []security.Capability

	// AllowedDomains is the administrator-managed outbound allow-list
	// for this plugin. Empty denies all hosts.
	AllowedDomains []string

	// User is the invoking identity. Nil for system-initiated calls.
	User *Identity

	// Config is host-provided plugin configuration, readable by the
	// plugin as the config global.
	Config map[string]interface{}
}

// Build assembles a fresh capability bundle for one invocation. Bundles
// are never cached or shared between invocations.
func (g *Gate) Build(req Request) *Scoped {
	checker := security.NewPermissionChecker(req.PluginID)
	checker.GrantAll(req.Granted)
	checker.SetAllowedDomains(req.AllowedDomains)
	for _, host := range g.blocked {
		checker.BlockDomain(host)
	}

	core := &scope{
		pluginID: req.PluginID,
		checker:  checker,
		monitor:  security.NewResourceMonitor(g.limits),
	}

	return &Scoped{
		core:      core,
		Storage:   &StorageAPI{core: core, kv: g.kv, namespace: req.PluginID},
		HTTP:      &HTTPAPI{core: core, client: g.client},
		Events:    &EventsAPI{core: core, sink: g.events, source: req.PluginID},
		User:      &UserAPI{core: core, identity: req.User},
		System:    &SystemAPI{core: core, info: g.host},
		Analytics: &AnalyticsAPI{core: core, sink: g.analytics},
		Log:       newLogAPI(core),
		Timers:    newTimerAPI(core),
		config:    req.Config,
	}
}

// scope carries the per-invocation state shared by every capability
// variant in a bundle.
type scope struct {
	pluginID string
	checker  *security.PermissionChecker
	monitor  *security.ResourceMonitor

	mu          sync.Mutex
	ctx         context.Context
	lastHostErr error
}

func (c *scope) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// fail records err as the bundle's most recent host failure and returns
// it. The coordinator uses the recorded error to classify Lua errors
// that originate in host calls.
func (c *scope) fail(err error) error {
	c.mu.Lock()
	c.lastHostErr = err
	c.mu.Unlock()
	return err
}

// count charges one host call against the instruction budget.
func (c *scope) count() error {
	if c.monitor.IncrementInstructions(1) {
		return c.fail(fmt.Errorf("%w: instruction budget", security.ErrLimitExceeded))
	}
	return nil
}

// Scoped is the typed capability bundle for a single invocation.
type Scoped struct {
	core *scope

	Storage   *StorageAPI
	HTTP      *HTTPAPI
	Events    *EventsAPI
	User      *UserAPI
	System    *SystemAPI
	Analytics *AnalyticsAPI
	Log       *LogAPI
	Timers    *TimerAPI

	config map[string]interface{}
}

// Bind sets the context host calls run under. The worker binds the
// invocation context before dispatching into the plugin.
func (s *Scoped) Bind(ctx context.Context) {
	s.core.mu.Lock()
	s.core.ctx = ctx
	s.core.mu.Unlock()
}

// PluginID returns the plugin this bundle was built for.
func (s *Scoped) PluginID() string {
	return s.core.pluginID
}

// Monitor returns the invocation's resource monitor.
func (s *Scoped) Monitor() *security.ResourceMonitor {
	return s.core.monitor
}

// LastHostError returns the most recent error a host call raised into
// the plugin, or nil if every host call succeeded.
func (s *Scoped) LastHostError() error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.core.lastHostErr
}

// Logs returns the log lines collected so far.
func (s *Scoped) Logs() []string {
	return s.Log.Lines()
}

// DrainTimers runs scheduled timer callbacks within the invocation
// deadline. The worker calls this on its own goroutine after the main
// invocation returns.
func (s *Scoped) DrainTimers(ctx context.Context, state *lua.State) {
	if s.Timers.Pending() == 0 {
		return
	}
	bridge := lua.NewBridge(state.LuaState())
	s.Timers.Drain(ctx, bridge, s.Log)
}

// InstallInto registers the bundle's modules as globals on a state and
// routes print output into the bundle's log. The worker resets the
// state after the invocation, which removes them again.
func (s *Scoped) InstallInto(state *lua.State) {
	bridge := lua.NewBridge(state.LuaState())

	state.RegisterModule("storage", s.Storage.module(bridge))
	state.RegisterModule("http", s.HTTP.module(bridge))
	state.RegisterModule("events", s.Events.module(bridge))
	state.RegisterModule("user", s.User.module(bridge))
	state.RegisterModule("system", s.System.module(bridge))
	state.RegisterModule("analytics", s.Analytics.module(bridge))
	state.RegisterModule("log", s.Log.module())
	state.RegisterModule("timers", s.Timers.module())

	if s.config != nil {
		state.SetGlobal("config", bridge.ToLuaValue(s.config))
	}
	state.Sandbox().SetPrintCapture(func(line string) {
		s.Log.write("print", line)
	})
}
