package warden

import (
	"errors"
	"testing"
	"time"

	"github.com/dshills/warden/security"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := NewPool(size, security.DefaultResourceLimits())
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func waitForPoolSize(t *testing.T, p *Pool, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Size == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pool size = %d, want %d", p.Stats().Size, want)
}

func TestNewPoolCreatesWorkersEagerly(t *testing.T) {
	p := newTestPool(t, 3)

	stats := p.Stats()
	if stats.Size != 3 {
		t.Errorf("Size = %d, want 3", stats.Size)
	}
	if stats.Idle != 3 {
		t.Errorf("Idle = %d, want 3", stats.Idle)
	}
	if stats.Busy != 0 {
		t.Errorf("Busy = %d, want 0", stats.Busy)
	}
}

func TestNewPoolDefaultSize(t *testing.T) {
	p := newTestPool(t, 0)

	if got := p.Stats().Size; got != DefaultPoolSize {
		t.Errorf("Size = %d, want DefaultPoolSize %d", got, DefaultPoolSize)
	}
}

func TestPoolAcquireExhaustion(t *testing.T) {
	p := newTestPool(t, 2)

	first, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first == second {
		t.Error("Acquire() returned the same worker twice")
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrNoWorkerAvailable) {
		t.Fatalf("Acquire() on empty pool error = %v, want ErrNoWorkerAvailable", err)
	}
	if _, err := p.Acquire(); !Retryable(err) {
		t.Error("pool exhaustion is not retryable")
	}

	p.Release(first)
	if _, err := p.Acquire(); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestPoolReleaseDuplicate(t *testing.T) {
	p := newTestPool(t, 1)

	w, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}

	p.Release(w)
	p.Release(w)

	if _, err := p.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := p.Acquire(); !errors.Is(err, ErrNoWorkerAvailable) {
		t.Errorf("double release duplicated a worker: %v", err)
	}
}

func TestPoolDiscardReplacesWorker(t *testing.T) {
	p := newTestPool(t, 2)

	w, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	p.Discard(w)

	waitForPoolSize(t, p, 2)

	// Both slots are usable again.
	a, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(a)
	p.Release(b)
}

func TestPoolDiscardTwiceReplacesOnce(t *testing.T) {
	p := newTestPool(t, 2)

	w, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	p.Discard(w)
	p.Discard(w)

	waitForPoolSize(t, p, 2)
	time.Sleep(50 * time.Millisecond)

	if got := p.Stats().Size; got != 2 {
		t.Errorf("Size = %d after double discard, want 2", got)
	}
}

func TestPoolReleaseDiscardedWorker(t *testing.T) {
	p := newTestPool(t, 2)

	w, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	p.Discard(w)
	p.Release(w)

	waitForPoolSize(t, p, 2)
	if got := p.Stats().Idle; got > 2 {
		t.Errorf("Idle = %d, discarded worker re-entered the pool", got)
	}
}

func TestPoolAcquireAfterClose(t *testing.T) {
	p := newTestPool(t, 1)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := p.Acquire(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Acquire() after close error = %v, want ErrEngineClosed", err)
	}
}

func TestPoolCloseIdempotent(t *testing.T) {
	p := newTestPool(t, 1)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
