package warden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/warden/api"
	"github.com/dshills/warden/audit"
	"github.com/dshills/warden/security"
)

// DefaultInvocationTimeout bounds an invocation that supplies no
// timeout of its own.
const DefaultInvocationTimeout = 30 * time.Second

// Invocation describes one plugin call. Lifecycle hooks go through the
// same path as ordinary calls; there is no privileged variant.
type Invocation struct {
	PluginID string
	Method   string
	Args     []interface{}

	// Context carries the invoking user, the granted permission subset,
	// and plugin configuration. Nil means a system call with no grants.
	Context *ExecutionContext

	// Timeout overrides the coordinator default when positive.
	Timeout time.Duration
}

// Coordinator routes invocations through lookup, permission checks,
// worker acquisition, dispatch, and auditing. Every call that enters
// Execute leaves an audit record, whatever the outcome.
type Coordinator struct {
	catalog   Catalog
	artifacts ArtifactStore
	pool      *Pool
	gate      *api.Gate
	recorder  audit.Recorder
	logger    *slog.Logger
	timeout   time.Duration

	// Per-plugin invocation rate limiting. Zero rate disables it.
	rate     int
	mu       sync.Mutex
	limiters map[string]*security.RateLimiter
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRecorder sets the audit sink. Defaults to structured logging.
func WithRecorder(r audit.Recorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger sets the coordinator's internal logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithTimeout sets the default invocation timeout.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithInvocationRate caps each plugin to n invocations per second.
func WithInvocationRate(n int) CoordinatorOption {
	return func(c *Coordinator) { c.rate = n }
}

// NewCoordinator wires an execution coordinator over its dependencies.
func NewCoordinator(catalog Catalog, artifacts ArtifactStore, pool *Pool, gate *api.Gate, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		catalog:   catalog,
		artifacts: artifacts,
		pool:      pool,
		gate:      gate,
		logger:    slog.Default(),
		timeout:   DefaultInvocationTimeout,
		limiters:  make(map[string]*security.RateLimiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.recorder == nil {
		c.recorder = audit.NewLogRecorder(c.logger)
	}
	return c
}

// Execute runs one plugin invocation end to end.
//
// The returned result is never nil. Engine-level failures (unknown
// plugin, denied permissions, timeout, crash) return the result
// alongside a sentinel-wrapped error. A plugin whose own code fails is
// not an engine failure: the result carries Success=false and the
// error details, and the returned error is nil.
func (c *Coordinator) Execute(ctx context.Context, inv Invocation) (*ExecutionResult, error) {
	if inv.Context == nil {
		inv.Context = &ExecutionContext{PluginID: inv.PluginID}
	}

	result := &ExecutionResult{ID: uuid.NewString()}
	started := time.Now()
	workerID := 0

	defer func() {
		c.record(ctx, inv, result, started, workerID)
	}()

	if inv.PluginID == "" || inv.Method == "" {
		return c.fail(result, errors.New("invocation requires a plugin id and a method"))
	}

	rec, err := c.catalog.Get(ctx, inv.PluginID)
	if err != nil {
		return c.fail(result, err)
	}
	if !rec.Status.Dispatchable() {
		return c.fail(result, fmt.Errorf("%w: %s is %s", ErrPluginDisabled, inv.PluginID, rec.Status))
	}

	if !security.SubsetOf(inv.Context.Permissions, rec.Manifest.Permissions) {
		return c.fail(result, fmt.Errorf("%w: granted permissions exceed the declared set of %s", ErrPermissionDenied, inv.PluginID))
	}

	if !c.limiter(inv.PluginID).Allow() {
		return c.fail(result, fmt.Errorf("%w: plugin %s", ErrRateLimited, inv.PluginID))
	}

	source, err := c.artifacts.ReadSource(ctx, inv.PluginID)
	if err != nil {
		return c.fail(result, err)
	}
	if !VerifyChecksum(source, rec.Checksum) {
		return c.fail(result, fmt.Errorf("%w: artifact checksum mismatch for %s", ErrSecurityViolation, inv.PluginID))
	}

	w, err := c.pool.Acquire()
	if err != nil {
		return c.fail(result, err)
	}
	workerID = w.id

	// Each invocation gets a bundle built from scratch. Nothing a
	// previous call granted or cached can leak into this one.
	scoped := c.gate.Build(api.Request{
		PluginID:       inv.PluginID,
		UserID:         inv.Context.UserID,
		Granted:        inv.Context.Permissions,
		AllowedDomains: rec.AllowedDomains,
		User:           invocationIdentity(inv.Context),
		Config:         inv.Context.Config,
	})

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &request{
		id:      result.ID,
		ctx:     execCtx,
		source:  string(source),
		method:  inv.Method,
		args:    inv.Args,
		scoped:  scoped,
		respond: make(chan *response, 1),
	}
	if err := w.dispatch(req); err != nil {
		c.pool.Discard(w)
		return c.fail(result, fmt.Errorf("%w: %v", ErrWorkerCrash, err))
	}

	select {
	case resp := <-req.respond:
		result.Metrics = resp.metrics
		result.Logs = scoped.Logs()
		if resp.crashed {
			c.pool.Discard(w)
		} else {
			c.pool.Release(w)
		}
		if resp.err != nil {
			if errors.Is(resp.err, ErrTimeout) || errors.Is(resp.err, ErrWorkerCrash) {
				return c.fail(result, resp.err)
			}
			result.Error = resp.err.Error()
			result.ErrorKind = classifyPluginError(resp.err, scoped)
			return result, nil
		}
		result.Success = true
		result.Value = resp.value
		return result, nil

	case <-execCtx.Done():
		// Forcible termination. The worker may still be unwinding; it
		// is discarded and replaced rather than reused.
		c.pool.Discard(w)
		result.Logs = scoped.Logs()
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return c.fail(result, fmt.Errorf("%w: %s.%s exceeded %s", ErrTimeout, inv.PluginID, inv.Method, timeout))
		}
		return c.fail(result, fmt.Errorf("%w: invocation canceled", ErrTimeout))
	}
}

// fail finalizes a result for an engine-level error and passes the
// error through.
func (c *Coordinator) fail(result *ExecutionResult, err error) (*ExecutionResult, error) {
	result.Success = false
	result.Error = err.Error()
	result.ErrorKind = KindOf(err)
	return result, err
}

// classifyPluginError assigns a kind to an error raised inside the
// plugin's own code. A Lua error that carries the text of the bundle's
// last host failure inherits that failure's classification, so a
// storage call denied at the gate surfaces as permission_denied rather
// than a generic runtime error.
func classifyPluginError(err error, scoped *api.Scoped) Kind {
	if kind := KindOf(err); kind != KindRuntime {
		return kind
	}
	if hostErr := scoped.LastHostError(); hostErr != nil && strings.Contains(err.Error(), hostErr.Error()) {
		return KindOf(hostErr)
	}
	return KindRuntime
}

// invocationIdentity resolves the identity handed to the user capability.
func invocationIdentity(ec *ExecutionContext) *api.Identity {
	if ec.User != nil {
		return ec.User
	}
	if ec.UserID != "" {
		return &api.Identity{ID: ec.UserID}
	}
	return nil
}

// limiter returns the invocation limiter for a plugin, creating it on
// first use.
func (c *Coordinator) limiter(pluginID string) *security.RateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[pluginID]
	if !ok {
		l = security.NewRateLimiter(c.rate)
		c.limiters[pluginID] = l
	}
	return l
}

// forgetLimiter drops a plugin's limiter state. Called on uninstall.
func (c *Coordinator) forgetLimiter(pluginID string) {
	c.mu.Lock()
	delete(c.limiters, pluginID)
	c.mu.Unlock()
}

// record writes the audit entry for one invocation. Recording happens
// on every exit path; a failing recorder is logged, never propagated,
// since the invocation outcome is already decided.
func (c *Coordinator) record(ctx context.Context, inv Invocation, result *ExecutionResult, started time.Time, workerID int) {
	elapsed := result.Metrics.Elapsed
	if elapsed == 0 {
		elapsed = time.Since(started)
	}

	entry := &audit.Entry{
		ID:           result.ID,
		Timestamp:    started,
		PluginID:     inv.PluginID,
		Method:       inv.Method,
		UserID:       inv.Context.UserID,
		Args:         inv.Args,
		Context:      inv.Context.Snapshot(),
		Success:      result.Success,
		ErrorKind:    string(result.ErrorKind),
		Error:        result.Error,
		Elapsed:      elapsed,
		MemoryBytes:  result.Metrics.MemoryBytes,
		Instructions: result.Metrics.Instructions,
		WorkerID:     workerID,
		Logs:         result.Logs,
	}

	if err := c.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Error("audit record failed",
			"invocation", result.ID,
			"plugin", inv.PluginID,
			"error", err)
	}
}
