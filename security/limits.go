package security

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRateLimited is returned when a gated host call exceeds its
// per-second budget. The call may succeed if retried later.
var ErrRateLimited = errors.New("rate limited")

// ErrLimitExceeded is returned when an invocation exhausts a hard
// resource budget. Unlike ErrRateLimited, retrying does not help.
var ErrLimitExceeded = errors.New("resource limit exceeded")

// ResourceLimits defines resource limits applied to a single worker and
// to the scoped API handed to a plugin invocation.
type ResourceLimits struct {
	// Memory ceiling in bytes. Sampled by the worker between
	// instruction batches; exceeding it aborts the invocation.
	MemoryLimit int64

	// Maximum wall-clock time per invocation.
	ExecutionTimeout time.Duration

	// Maximum Lua VM instructions per invocation.
	InstructionLimit int64

	// Maximum storage operations per second.
	StorageOpsPerSecond int

	// Maximum outbound HTTP requests per second.
	NetworkReqPerSecond int

	// Maximum log lines collected per invocation.
	MaxLogLines int

	// Maximum bytes read from an HTTP response body.
	MaxHTTPResponseSize int64

	// Timer clamps for the scoped timer API.
	MaxActiveTimers  int
	MaxTimerDelay    time.Duration
	MinTimerInterval time.Duration
}

// DefaultResourceLimits returns the standard sandbox limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:         128 * 1024 * 1024, // 128 MB
		ExecutionTimeout:    30 * time.Second,
		InstructionLimit:    100_000_000,
		StorageOpsPerSecond: 100,
		NetworkReqPerSecond: 10,
		MaxLogLines:         1000,
		MaxHTTPResponseSize: 5 * 1024 * 1024, // 5 MB
		MaxActiveTimers:     8,
		MaxTimerDelay:       60 * time.Second,
		MinTimerInterval:    100 * time.Millisecond,
	}
}

// StrictResourceLimits returns stricter limits for unreviewed plugins.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:         32 * 1024 * 1024, // 32 MB
		ExecutionTimeout:    5 * time.Second,
		InstructionLimit:    10_000_000,
		StorageOpsPerSecond: 20,
		NetworkReqPerSecond: 2,
		MaxLogLines:         200,
		MaxHTTPResponseSize: 512 * 1024, // 512 KB
		MaxActiveTimers:     2,
		MaxTimerDelay:       10 * time.Second,
		MinTimerInterval:    time.Second,
	}
}

// RelaxedResourceLimits returns relaxed limits for first-party plugins.
func RelaxedResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:         512 * 1024 * 1024, // 512 MB
		ExecutionTimeout:    2 * time.Minute,
		InstructionLimit:    1_000_000_000,
		StorageOpsPerSecond: 1000,
		NetworkReqPerSecond: 100,
		MaxLogLines:         10_000,
		MaxHTTPResponseSize: 50 * 1024 * 1024, // 50 MB
		MaxActiveTimers:     32,
		MaxTimerDelay:       10 * time.Minute,
		MinTimerInterval:    10 * time.Millisecond,
	}
}

// ResourceMonitor tracks resource usage during one invocation and
// enforces the per-invocation limits.
type ResourceMonitor struct {
	mu sync.RWMutex

	limits ResourceLimits

	// Tracking
	instructionCount int64
	memoryUsage      int64
	logLines         int64
	httpBytes        int64

	// Rate limiters
	storageOpsLimiter *RateLimiter
	networkReqLimiter *RateLimiter

	// State
	exceeded bool
	reason   string
}

// NewResourceMonitor creates a new resource monitor with the given limits.
func NewResourceMonitor(limits ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{
		limits:            limits,
		storageOpsLimiter: NewRateLimiter(limits.StorageOpsPerSecond),
		networkReqLimiter: NewRateLimiter(limits.NetworkReqPerSecond),
	}
}

// IncrementInstructions increments the instruction counter.
// Returns true if the limit is exceeded.
func (rm *ResourceMonitor) IncrementInstructions(count int64) bool {
	newCount := atomic.AddInt64(&rm.instructionCount, count)
	if rm.limits.InstructionLimit > 0 && newCount > rm.limits.InstructionLimit {
		rm.setExceeded("instruction limit exceeded")
		return true
	}
	return false
}

// InstructionCount returns the current instruction count.
func (rm *ResourceMonitor) InstructionCount() int64 {
	return atomic.LoadInt64(&rm.instructionCount)
}

// UpdateMemoryUsage records a memory usage sample.
// Returns true if the ceiling is exceeded.
func (rm *ResourceMonitor) UpdateMemoryUsage(bytes int64) bool {
	atomic.StoreInt64(&rm.memoryUsage, bytes)
	if rm.limits.MemoryLimit > 0 && bytes > rm.limits.MemoryLimit {
		rm.setExceeded("memory ceiling exceeded")
		return true
	}
	return false
}

// MemoryUsage returns the last sampled memory usage.
func (rm *ResourceMonitor) MemoryUsage() int64 {
	return atomic.LoadInt64(&rm.memoryUsage)
}

// AddLogLine counts one collected log line.
// Returns true if the line budget is exceeded.
func (rm *ResourceMonitor) AddLogLine() bool {
	newCount := atomic.AddInt64(&rm.logLines, 1)
	if rm.limits.MaxLogLines > 0 && newCount > int64(rm.limits.MaxLogLines) {
		rm.setExceeded("log line limit exceeded")
		return true
	}
	return false
}

// LogLines returns the number of collected log lines.
func (rm *ResourceMonitor) LogLines() int64 {
	return atomic.LoadInt64(&rm.logLines)
}

// AddHTTPBytes counts bytes read from HTTP response bodies.
// Returns true if the response budget is exceeded.
func (rm *ResourceMonitor) AddHTTPBytes(n int64) bool {
	newSize := atomic.AddInt64(&rm.httpBytes, n)
	if rm.limits.MaxHTTPResponseSize > 0 && newSize > rm.limits.MaxHTTPResponseSize {
		rm.setExceeded("http response size limit exceeded")
		return true
	}
	return false
}

// TryStorageOp attempts a storage operation.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryStorageOp() bool {
	if !rm.storageOpsLimiter.Allow() {
		rm.setExceeded("storage operation rate limit exceeded")
		return false
	}
	return true
}

// TryNetworkRequest attempts an outbound request.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryNetworkRequest() bool {
	if !rm.networkReqLimiter.Allow() {
		rm.setExceeded("network request rate limit exceeded")
		return false
	}
	return true
}

// Limits returns the configured limits.
func (rm *ResourceMonitor) Limits() ResourceLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// IsExceeded returns true if any limit was exceeded.
func (rm *ResourceMonitor) IsExceeded() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.exceeded
}

// ExceededReason returns the reason for limit exceeded, if any.
func (rm *ResourceMonitor) ExceededReason() string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.reason
}

// setExceeded marks limits as exceeded with a reason. The first reason
// wins; later violations do not overwrite it.
func (rm *ResourceMonitor) setExceeded(reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.exceeded {
		rm.exceeded = true
		rm.reason = reason
	}
}

// Reset clears all counters and the exceeded state.
func (rm *ResourceMonitor) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	atomic.StoreInt64(&rm.instructionCount, 0)
	atomic.StoreInt64(&rm.memoryUsage, 0)
	atomic.StoreInt64(&rm.logLines, 0)
	atomic.StoreInt64(&rm.httpBytes, 0)
	rm.exceeded = false
	rm.reason = ""
}

// ResourceUsage represents a snapshot of resource usage.
type ResourceUsage struct {
	InstructionCount int64
	MemoryUsage      int64
	LogLines         int64
	HTTPBytes        int64
	Exceeded         bool
	ExceededReason   string
}

// GetUsage returns a snapshot of current resource usage.
func (rm *ResourceMonitor) GetUsage() ResourceUsage {
	rm.mu.RLock()
	exceeded := rm.exceeded
	reason := rm.reason
	rm.mu.RUnlock()

	return ResourceUsage{
		InstructionCount: rm.InstructionCount(),
		MemoryUsage:      rm.MemoryUsage(),
		LogLines:         rm.LogLines(),
		HTTPBytes:        atomic.LoadInt64(&rm.httpBytes),
		Exceeded:         exceeded,
		ExceededReason:   reason,
	}
}
