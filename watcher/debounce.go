package watcher

import "time"

// pendingChange is a change waiting out its quiet period. Repeated
// events on the same directory reset the timer; a removal sticks so a
// delete-then-recreate burst still reports the removal.
type pendingChange struct {
	timer   *time.Timer
	removed bool
}

// schedule arms (or re-arms) the delivery timer for a plugin directory.
func (w *Watcher) schedule(dir string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if p, ok := w.pending[dir]; ok {
		p.removed = p.removed || removed
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingChange{removed: removed}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.fire(dir)
	})
	w.pending[dir] = p
}

// fire delivers the coalesced change for a directory. Delivery is
// non-blocking: a subscriber that stopped draining loses bursts rather
// than wedging the watcher.
func (w *Watcher) fire(dir string) {
	// The send happens under the lock so Close cannot slip between the
	// closed check and the send and close the channel underneath it.
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[dir]
	if !ok || w.closed {
		return
	}
	delete(w.pending, dir)

	select {
	case w.changes <- Change{Dir: dir, Removed: p.removed, Time: time.Now()}:
	default:
	}
}
