package warden

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/api"
	"github.com/dshills/warden/lua"
	"github.com/dshills/warden/security"
)

// request is one dispatch to a worker. The response echoes the
// correlation id so a late reply can never be attributed to the wrong
// invocation.
type request struct {
	id      string
	ctx     context.Context
	source  string
	method  string
	args    []interface{}
	scoped  *api.Scoped
	respond chan *response
}

// response is the worker's answer to a request.
type response struct {
	id      string
	value   interface{}
	err     error
	crashed bool
	metrics Metrics
}

// errWorkerClosed reports a dispatch to a worker whose loop has exited.
var errWorkerClosed = errors.New("worker closed")

// worker owns one sandboxed Lua state. All access to the state goes
// through the worker's dispatcher goroutine; nothing else touches it.
type worker struct {
	id    int
	state *lua.State

	queue     chan *request
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// newWorker creates a worker with a fresh sandboxed state and starts
// its dispatcher loop.
func newWorker(id int, limits security.ResourceLimits) (*worker, error) {
	state, err := lua.NewState(lua.WithMemoryLimit(limits.MemoryLimit))
	if err != nil {
		return nil, fmt.Errorf("create worker state: %w", err)
	}

	w := &worker{
		id:    id,
		state: state,
		queue: make(chan *request, 1),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// run is the dispatcher loop. One request at a time, in order.
func (w *worker) run() {
	defer w.wg.Done()

	for {
		select {
		case req := <-w.queue:
			w.handle(req)
		case <-w.done:
			w.drainQueue()
			return
		}
	}
}

// drainQueue answers requests that were queued before the worker was
// told to stop.
func (w *worker) drainQueue() {
	for {
		select {
		case req := <-w.queue:
			req.respond <- &response{id: req.id, err: fmt.Errorf("%w: %v", ErrWorkerCrash, errWorkerClosed), crashed: true}
		default:
			return
		}
	}
}

// dispatch submits a request to the worker's loop.
func (w *worker) dispatch(req *request) error {
	select {
	case w.queue <- req:
		return nil
	case <-w.done:
		return errWorkerClosed
	}
}

// handle executes one request against the worker's state and sends
// exactly one response.
func (w *worker) handle(req *request) {
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()

	value, crashed, err := w.invoke(req)

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	metrics := Metrics{
		Elapsed:      time.Since(start),
		MemoryBytes:  heapDelta(before, after),
		Instructions: req.scoped.Monitor().InstructionCount(),
	}

	// The memory ceiling is advisory inside the VM; it is checked here
	// against sampled heap growth. A worker that ballooned the heap is
	// discarded so the allocation can be collected.
	if !crashed && req.scoped.Monitor().UpdateMemoryUsage(metrics.MemoryBytes) {
		crashed = true
		if err == nil {
			err = fmt.Errorf("%w: invocation grew the heap by %d bytes", security.ErrLimitExceeded, metrics.MemoryBytes)
		}
	}

	// A survivable invocation ends with the state reset for the next
	// plugin. A reset failure poisons the state, so the worker reports
	// itself crashed and the pool replaces it.
	if !crashed {
		if resetErr := w.state.Reset(); resetErr != nil {
			crashed = true
			if err == nil {
				err = fmt.Errorf("%w: reset state: %v", ErrWorkerCrash, resetErr)
			}
		}
	}

	req.respond <- &response{
		id:      req.id,
		value:   value,
		err:     err,
		crashed: crashed,
		metrics: metrics,
	}
}

// invoke loads the plugin source, calls the requested method, and
// drains any timers it scheduled. The returned crashed flag tells the
// pool whether the state survived.
func (w *worker) invoke(req *request) (value interface{}, crashed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			crashed = true
			err = fmt.Errorf("%w: %v", ErrWorkerCrash, r)
		}
	}()

	req.scoped.Bind(req.ctx)
	req.scoped.InstallInto(w.state)

	w.state.SetExecContext(req.ctx)
	defer w.state.ClearExecContext()

	if err := w.state.DoString(req.source); err != nil {
		crashed, mapped := w.classify(req, err)
		return nil, crashed, mapped
	}

	if !w.state.HasGlobalFunction(req.method) {
		return nil, false, fmt.Errorf("function %q is not defined", req.method)
	}

	bridge := lua.NewBridge(w.state.LuaState())
	luaArgs := make([]glua.LValue, len(req.args))
	for i, arg := range req.args {
		luaArgs[i] = bridge.ToLuaValue(arg)
	}

	results, err := w.state.Call(req.method, luaArgs...)
	if err != nil {
		crashed, mapped := w.classify(req, err)
		return nil, crashed, mapped
	}

	if len(results) > 0 {
		value = bridge.ToGoValue(results[0])
	}

	// Timers run after the method returns, on this goroutine, within
	// whatever budget the invocation has left.
	req.scoped.DrainTimers(req.ctx, w.state)

	return value, false, nil
}

// classify maps a failed Lua call to an engine error and reports
// whether the state is still usable. A state aborted by its context or
// recovered from a VM panic cannot be reused.
func (w *worker) classify(req *request, err error) (crashed bool, mapped error) {
	if ctxErr := req.ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return true, fmt.Errorf("%w: invocation exceeded its deadline", ErrTimeout)
		}
		return true, fmt.Errorf("%w: invocation canceled", ErrTimeout)
	}
	if errors.Is(err, lua.ErrPanic) {
		return true, fmt.Errorf("%w: %v", ErrWorkerCrash, err)
	}
	return false, err
}

// close stops the dispatcher loop and waits for in-flight work. The
// Lua state stays open until closeState.
func (w *worker) close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

// closeState releases the worker's Lua state. Only call after close.
func (w *worker) closeState() {
	w.state.Close()
}

func heapDelta(before, after runtime.MemStats) int64 {
	delta := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	if delta < 0 {
		// GC ran during the invocation; the sample is process-level
		// and can shrink.
		return 0
	}
	return delta
}
