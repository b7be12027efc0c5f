package warden

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/warden/api"
	"github.com/dshills/warden/audit"
	"github.com/dshills/warden/security"
)

// Config controls engine behavior. The zero value gets sensible
// defaults everywhere.
type Config struct {
	// PoolSize is the number of sandbox workers. Zero means
	// DefaultPoolSize.
	PoolSize int

	// InvocationTimeout bounds each plugin call. Zero means
	// DefaultInvocationTimeout.
	InvocationTimeout time.Duration

	// InvocationsPerSecond caps per-plugin call rates. Zero disables
	// the cap.
	InvocationsPerSecond int

	// Limits are the per-invocation resource budgets. The zero value
	// means security.DefaultResourceLimits.
	Limits security.ResourceLimits

	// Host is the description plugins see through system.info.
	Host api.HostInfo

	// BlockedHosts replaces the built-in outbound block-list when
	// non-nil. The default blocks loopback and the metadata endpoint.
	BlockedHosts []string
}

// Deps are the injected backends. Every dependency is explicit; the
// engine holds no package-level state, and two engines in one process
// do not interfere. The engine closes only what it creates: injected
// backends stay owned by the caller.
type Deps struct {
	Catalog   Catalog
	KV        KV
	Artifacts ArtifactStore

	// Recorder receives audit entries. Nil falls back to structured
	// logging so the audit trail never silently disappears.
	Recorder audit.Recorder

	// Analytics receives plugin usage counters. Optional.
	Analytics api.AnalyticsSink

	// HTTPClient serves plugin outbound requests. Optional; the
	// default has a 30s timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Engine is the composition root for the plugin sandbox: registry,
// coordinator, worker pool, capability gate, and event bus, wired over
// the injected backends.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	bus      *Bus
	gate     *api.Gate
	pool     *Pool
	coord    *Coordinator
	registry *Registry

	mu     sync.Mutex
	closed bool
}

// New wires an engine. The catalog, key-value store, and artifact
// store are required.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("engine requires a catalog")
	}
	if deps.KV == nil {
		return nil, errors.New("engine requires a key-value store")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("engine requires an artifact store")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limits := cfg.Limits
	if limits == (security.ResourceLimits{}) {
		limits = security.DefaultResourceLimits()
	}

	bus := NewBus(logger)

	gateOpts := []api.GateOption{
		api.WithEventSink(bus),
		api.WithLimits(limits),
	}
	if cfg.Host != (api.HostInfo{}) {
		gateOpts = append(gateOpts, api.WithHostInfo(cfg.Host))
	}
	if cfg.BlockedHosts != nil {
		gateOpts = append(gateOpts, api.WithBlockedHosts(cfg.BlockedHosts...))
	}
	if deps.Analytics != nil {
		gateOpts = append(gateOpts, api.WithAnalyticsSink(deps.Analytics))
	}
	if deps.HTTPClient != nil {
		gateOpts = append(gateOpts, api.WithHTTPClient(deps.HTTPClient))
	}
	gate := api.NewGate(deps.KV, gateOpts...)

	pool, err := NewPool(cfg.PoolSize, limits)
	if err != nil {
		return nil, err
	}
	pool.onReplace = func() {
		bus.Publish("engine", "worker.replaced", nil)
	}

	coord := NewCoordinator(deps.Catalog, deps.Artifacts, pool, gate,
		WithRecorder(deps.Recorder),
		WithLogger(logger),
		WithTimeout(cfg.InvocationTimeout),
		WithInvocationRate(cfg.InvocationsPerSecond),
	)

	registry := NewRegistry(deps.Catalog, deps.KV, deps.Artifacts, coord, bus, logger)

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		gate:     gate,
		pool:     pool,
		coord:    coord,
		registry: registry,
	}, nil
}

// Execute runs one plugin invocation. See Coordinator.Execute for the
// result contract.
func (e *Engine) Execute(ctx context.Context, inv Invocation) (*ExecutionResult, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return &ExecutionResult{
			Success:   false,
			Error:     ErrEngineClosed.Error(),
			ErrorKind: KindOf(ErrEngineClosed),
		}, ErrEngineClosed
	}
	return e.coord.Execute(ctx, inv)
}

// Registry exposes plugin lifecycle operations.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Bus exposes the notification bus for host subscribers.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Stats reports worker pool occupancy and bus activity.
func (e *Engine) Stats() (PoolStats, BusStats) {
	return e.pool.Stats(), e.bus.Stats()
}

// Shutdown stops the worker pool, waiting for in-flight invocations
// until ctx expires. Injected backends are not closed; they belong to
// the caller. Shutdown is idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := e.pool.Close(); err != nil {
			e.logger.Error("worker pool close failed", "error", err)
		}
	}()

	select {
	case <-done:
		e.logger.Info("engine shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
