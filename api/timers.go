package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/warden/lua"
)

// timer is one scheduled callback. Canceled timers stay in the slice
// with the flag set so ids are never reused within an invocation.
type timer struct {
	id       int
	fn       *glua.LFunction
	fireAt   time.Time
	interval time.Duration // zero for one-shot
	canceled bool
}

// TimerAPI is the deferred timer capability variant. Timers do not run
// concurrently with the plugin: the worker drains them on its own
// goroutine after the main invocation returns, in fire order, until no
// timer can fire before the invocation deadline.
//
// Delays are clamped to the configured maximum and intervals to the
// configured minimum, and the number of live timers is capped.
type TimerAPI struct {
	core *scope

	mu      sync.Mutex
	nextID  int
	pending []*timer
}

func newTimerAPI(core *scope) *TimerAPI {
	return &TimerAPI{core: core, nextID: 1}
}

// SetTimeout schedules fn to run once after delay.
func (a *TimerAPI) SetTimeout(fn *glua.LFunction, delay time.Duration) (int, error) {
	limits := a.core.monitor.Limits()
	if delay < 0 {
		delay = 0
	}
	if limits.MaxTimerDelay > 0 && delay > limits.MaxTimerDelay {
		delay = limits.MaxTimerDelay
	}
	return a.add(fn, time.Now().Add(delay), 0)
}

// SetInterval schedules fn to run repeatedly, first after one interval.
func (a *TimerAPI) SetInterval(fn *glua.LFunction, interval time.Duration) (int, error) {
	limits := a.core.monitor.Limits()
	if limits.MinTimerInterval > 0 && interval < limits.MinTimerInterval {
		interval = limits.MinTimerInterval
	}
	return a.add(fn, time.Now().Add(interval), interval)
}

func (a *TimerAPI) add(fn *glua.LFunction, fireAt time.Time, interval time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	limits := a.core.monitor.Limits()
	if limits.MaxActiveTimers > 0 && a.liveLocked() >= limits.MaxActiveTimers {
		return 0, a.core.fail(fmt.Errorf("too many active timers (limit %d)", limits.MaxActiveTimers))
	}

	id := a.nextID
	a.nextID++
	a.pending = append(a.pending, &timer{id: id, fn: fn, fireAt: fireAt, interval: interval})
	return id, nil
}

// Cancel stops a timer. Returns false if the id is unknown or already
// canceled.
func (a *TimerAPI) Cancel(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range a.pending {
		if t.id == id && !t.canceled {
			t.canceled = true
			return true
		}
	}
	return false
}

// Pending returns the number of live timers.
func (a *TimerAPI) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveLocked()
}

func (a *TimerAPI) liveLocked() int {
	n := 0
	for _, t := range a.pending {
		if !t.canceled {
			n++
		}
	}
	return n
}

// Drain runs due callbacks in fire order. It returns when no live timer
// remains, when the soonest timer would fire after the context
// deadline, or when the context is done. Callback errors cancel the
// failing timer and are logged; they do not affect the invocation's
// already-computed result.
func (a *TimerAPI) Drain(ctx context.Context, bridge *lua.Bridge, log *LogAPI) {
	deadline, hasDeadline := ctx.Deadline()

	for {
		t := a.soonest()
		if t == nil {
			return
		}
		if hasDeadline && t.fireAt.After(deadline) {
			return
		}

		if wait := time.Until(t.fireAt); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}

		if _, err := bridge.CallFunc(t.fn); err != nil {
			log.write("error", fmt.Sprintf("timer %d failed: %s", t.id, err.Error()))
			a.Cancel(t.id)
			continue
		}
		a.finish(t.id)
	}
}

// soonest returns a snapshot of the live timer with the earliest fire
// time.
func (a *TimerAPI) soonest() *timer {
	a.mu.Lock()
	defer a.mu.Unlock()

	var min *timer
	for _, t := range a.pending {
		if t.canceled {
			continue
		}
		if min == nil || t.fireAt.Before(min.fireAt) {
			min = t
		}
	}
	if min == nil {
		return nil
	}
	snapshot := *min
	return &snapshot
}

// finish completes one firing: one-shots are canceled, intervals are
// rescheduled unless the callback canceled them.
func (a *TimerAPI) finish(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range a.pending {
		if t.id != id || t.canceled {
			continue
		}
		if t.interval > 0 {
			t.fireAt = time.Now().Add(t.interval)
		} else {
			t.canceled = true
		}
		return
	}
}

func (a *TimerAPI) module() map[string]glua.LGFunction {
	return map[string]glua.LGFunction{
		"set_timeout": func(L *glua.LState) int {
			fn := L.CheckFunction(1)
			ms := float64(L.CheckNumber(2))
			id, err := a.SetTimeout(fn, time.Duration(ms*float64(time.Millisecond)))
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LNumber(id))
			return 1
		},
		"set_interval": func(L *glua.LState) int {
			fn := L.CheckFunction(1)
			ms := float64(L.CheckNumber(2))
			id, err := a.SetInterval(fn, time.Duration(ms*float64(time.Millisecond)))
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(glua.LNumber(id))
			return 1
		},
		"cancel": func(L *glua.LState) int {
			id := int(L.CheckNumber(1))
			L.Push(glua.LBool(a.Cancel(id)))
			return 1
		},
		"pending": func(L *glua.LState) int {
			L.Push(glua.LNumber(a.Pending()))
			return 1
		},
	}
}
