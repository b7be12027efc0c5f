// Package audit records plugin invocations. The execution coordinator
// emits one entry for every dispatch attempt, successful or not, and
// recorders deliver those entries to their backing stores. Recorders
// must tolerate being called from multiple goroutines.
package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Entry is one audit record. Entries are immutable once recorded.
type Entry struct {
	// ID is the correlation id of the invocation, shared with the
	// execution result it describes.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	PluginID string `json:"plugin_id"`
	Method   string `json:"method"`
	UserID   string `json:"user_id,omitempty"`

	// Args holds the invocation arguments as passed to the plugin.
	Args []interface{} `json:"args,omitempty"`
	// Context is a snapshot of the execution context the invocation
	// ran under.
	Context map[string]interface{} `json:"context,omitempty"`

	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	Elapsed      time.Duration `json:"elapsed_ns"`
	MemoryBytes  int64         `json:"memory_bytes"`
	Instructions int64         `json:"instructions"`

	// WorkerID identifies which pool worker ran the invocation. Zero
	// when the invocation never reached a worker.
	WorkerID int `json:"worker_id,omitempty"`

	// Logs holds every line the plugin wrote through its logging API.
	Logs []string `json:"logs,omitempty"`
}

// Recorder delivers audit entries to a backing store.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Multi fans each entry out to every recorder. A failing recorder does
// not stop delivery to the others; errors are joined.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e *Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member recorder that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if closer, ok := r.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// MemoryRecorder keeps entries in memory. Used by tests and by hosts
// that expose recent invocations through their own admin surface.
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns the recorded entries in record order.
func (m *MemoryRecorder) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByPlugin returns the recorded entries for one plugin in record order.
func (m *MemoryRecorder) ByPlugin(pluginID string) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.PluginID == pluginID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (m *MemoryRecorder) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Recorder = (Multi)(nil)
var _ Recorder = (*MemoryRecorder)(nil)
