package warden

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dshills/warden/security"
)

// DefaultPoolSize is the number of workers created when the
// configuration does not say otherwise.
const DefaultPoolSize = 4

// Pool owns a fixed-size set of workers. Workers are created eagerly so
// the first invocation never pays a cold start, and a crashed worker is
// replaced in the background so the pool converges back to its
// configured size.
type Pool struct {
	limits security.ResourceLimits

	// onReplace, when set, is called after a discarded worker's
	// substitute joins the pool. Set once at wiring time, before any
	// worker can be discarded.
	onReplace func()

	mu     sync.Mutex
	size   int
	nextID int
	live   map[*worker]bool
	idle   []*worker
	closed bool

	replacing sync.WaitGroup
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Size int
	Idle int
	Busy int
}

// NewPool creates size workers up front. A size of zero or less uses
// DefaultPoolSize.
func NewPool(size int, limits security.ResourceLimits) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	p := &Pool{
		limits: limits,
		size:   size,
		live:   make(map[*worker]bool, size),
	}

	for i := 0; i < size; i++ {
		w, err := p.spawn()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start worker pool: %w", err)
		}
		p.mu.Lock()
		p.live[w] = true
		p.idle = append(p.idle, w)
		p.mu.Unlock()
	}

	return p, nil
}

// spawn creates one worker with a fresh id.
func (p *Pool) spawn() (*worker, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	return newWorker(id, p.limits)
}

// Acquire picks an idle worker uniformly at random and marks it busy.
// Random selection spreads long-lived Lua state (string interning,
// loaded modules) evenly across the pool instead of hammering the
// first worker.
func (p *Pool) Acquire() (*worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrEngineClosed
	}
	if len(p.idle) == 0 {
		return nil, fmt.Errorf("%w: all %d workers busy", ErrNoWorkerAvailable, p.size)
	}

	i := rand.Intn(len(p.idle))
	w := p.idle[i]
	p.idle[i] = p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return w, nil
}

// Release returns a healthy worker to the idle set. Releasing a worker
// the pool no longer tracks is a no-op.
func (p *Pool) Release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !p.live[w] {
		return
	}
	for _, existing := range p.idle {
		if existing == w {
			return
		}
	}
	p.idle = append(p.idle, w)
}

// Discard removes a worker whose state is no longer trustworthy and
// starts an asynchronous replacement. Discarding the same worker twice
// replaces it once.
func (p *Pool) Discard(w *worker) {
	p.mu.Lock()
	if !p.live[w] {
		p.mu.Unlock()
		return
	}
	delete(p.live, w)
	for i, existing := range p.idle {
		if existing == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	closed := p.closed
	p.mu.Unlock()

	// The worker may still be finishing a request; close waits for it
	// off the caller's goroutine.
	go func() {
		w.close()
		w.closeState()
	}()

	if !closed {
		p.replacing.Add(1)
		go p.replace()
	}
}

// replace spawns a substitute worker, retrying with backoff until it
// succeeds or the pool closes. The size invariant holds as long as
// this eventually wins.
func (p *Pool) replace() {
	defer p.replacing.Done()

	backoff := 10 * time.Millisecond
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		w, err := p.spawn()
		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				go func() {
					w.close()
					w.closeState()
				}()
				return
			}
			p.live[w] = true
			p.idle = append(p.idle, w)
			p.mu.Unlock()
			if p.onReplace != nil {
				p.onReplace()
			}
			return
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > time.Second {
			backoff = time.Second
		}
	}
}

// Stats reports current occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Size: len(p.live),
		Idle: len(p.idle),
		Busy: len(p.live) - len(p.idle),
	}
}

// Close stops every worker and waits for in-flight requests and
// pending replacements to finish. The pool cannot be reused.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := make([]*worker, 0, len(p.live))
	for w := range p.live {
		workers = append(workers, w)
	}
	p.live = make(map[*worker]bool)
	p.idle = nil
	p.mu.Unlock()

	p.replacing.Wait()

	for _, w := range workers {
		w.close()
		w.closeState()
	}
	return nil
}
