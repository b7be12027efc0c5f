// Package watcher observes a plugin artifact directory for external
// changes. It is a development aid: a host can subscribe to change
// notifications and re-validate or reload a plugin whose files were
// edited on disk. Changes are reported per plugin directory, not per
// file, and rapid bursts of writes are coalesced before delivery.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Change reports that a plugin directory's contents were modified.
type Change struct {
	// Dir is the absolute path of the plugin directory.
	Dir string

	// Removed is set when the directory itself disappeared.
	Removed bool

	Time time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period required before a change is
// delivered. Writes landing inside the window extend it.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher watches one artifact root. Each immediate subdirectory is
// treated as a plugin directory; events anywhere under it collapse
// into a single Change for that directory.
type Watcher struct {
	root     string
	debounce time.Duration

	fsw     *fsnotify.Watcher
	changes chan Change
	errs    chan error

	mu      sync.Mutex
	pending map[string]*pendingChange
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New starts watching the artifact root and every plugin directory
// already present under it. Directories created later are picked up
// automatically.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("artifact root is not a directory")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     abs,
		debounce: defaultDebounce,
		fsw:      fsw,
		changes:  make(chan Change, 16),
		errs:     make(chan error, 16),
		pending:  make(map[string]*pendingChange),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			// A vanished directory between ReadDir and Add is not an
			// error; its removal event arrives through the root watch.
			_ = fsw.Add(filepath.Join(abs, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Changes returns the channel of debounced plugin-directory changes.
// Closed when the watcher closes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the channel of watch errors. Closed when the watcher
// closes.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops the watcher, cancels pending notifications, and closes
// both channels. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for dir, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, dir)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	close(w.done)
	w.wg.Wait()

	close(w.changes)
	close(w.errs)
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

// handle maps one filesystem event onto its plugin directory and
// schedules delivery.
func (w *Watcher) handle(ev fsnotify.Event) {
	dir, ok := w.pluginDir(ev.Name)
	if !ok {
		return
	}

	// A directory appearing directly under the root is a new plugin
	// directory; start watching inside it.
	if ev.Op.Has(fsnotify.Create) && ev.Name == dir {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			_ = w.fsw.Add(dir)
		}
	}

	removed := ev.Name == dir && (ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename))
	w.schedule(dir, removed)
}

// pluginDir resolves an event path to the plugin directory containing
// it. Events on the root itself or on stray files directly in the root
// are ignored.
func (w *Watcher) pluginDir(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	first := rel
	if i := strings.IndexByte(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
	} else {
		// Entry directly under the root: only directories are plugin
		// candidates. A just-removed entry cannot be stat'ed, so it is
		// given the benefit of the doubt.
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return "", false
		}
	}
	return filepath.Join(w.root, first), true
}
