package security

import (
	"testing"
	"time"
)

func TestDefaultResourceLimits(t *testing.T) {
	limits := DefaultResourceLimits()

	if limits.MemoryLimit != 128*1024*1024 {
		t.Errorf("MemoryLimit = %d, want %d", limits.MemoryLimit, 128*1024*1024)
	}
	if limits.ExecutionTimeout != 30*time.Second {
		t.Errorf("ExecutionTimeout = %v, want %v", limits.ExecutionTimeout, 30*time.Second)
	}
	if limits.InstructionLimit <= 0 {
		t.Error("InstructionLimit should be positive")
	}
}

func TestLimitPresetsOrdering(t *testing.T) {
	strict := StrictResourceLimits()
	def := DefaultResourceLimits()
	relaxed := RelaxedResourceLimits()

	if strict.MemoryLimit >= def.MemoryLimit {
		t.Error("strict memory limit should be below default")
	}
	if def.MemoryLimit >= relaxed.MemoryLimit {
		t.Error("default memory limit should be below relaxed")
	}
	if strict.ExecutionTimeout >= def.ExecutionTimeout {
		t.Error("strict timeout should be below default")
	}
}

func TestResourceMonitorInstructions(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.InstructionLimit = 100
	rm := NewResourceMonitor(limits)

	if rm.IncrementInstructions(50) {
		t.Error("IncrementInstructions(50) should not exceed limit of 100")
	}
	if !rm.IncrementInstructions(51) {
		t.Error("IncrementInstructions past limit should report exceeded")
	}
	if !rm.IsExceeded() {
		t.Error("IsExceeded() = false after exceeding instruction limit")
	}
	if rm.ExceededReason() == "" {
		t.Error("ExceededReason() should be set")
	}
}

func TestResourceMonitorMemory(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.MemoryLimit = 1024
	rm := NewResourceMonitor(limits)

	if rm.UpdateMemoryUsage(512) {
		t.Error("UpdateMemoryUsage(512) should not exceed 1024 ceiling")
	}
	if rm.MemoryUsage() != 512 {
		t.Errorf("MemoryUsage() = %d, want 512", rm.MemoryUsage())
	}
	if !rm.UpdateMemoryUsage(2048) {
		t.Error("UpdateMemoryUsage(2048) should exceed 1024 ceiling")
	}
}

func TestResourceMonitorLogLines(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.MaxLogLines = 2
	rm := NewResourceMonitor(limits)

	if rm.AddLogLine() {
		t.Error("first log line should be within budget")
	}
	if rm.AddLogLine() {
		t.Error("second log line should be within budget")
	}
	if !rm.AddLogLine() {
		t.Error("third log line should exceed budget of 2")
	}
}

func TestResourceMonitorHTTPBytes(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.MaxHTTPResponseSize = 100
	rm := NewResourceMonitor(limits)

	if rm.AddHTTPBytes(60) {
		t.Error("AddHTTPBytes(60) should be within 100 budget")
	}
	if !rm.AddHTTPBytes(60) {
		t.Error("cumulative 120 bytes should exceed 100 budget")
	}
}

func TestResourceMonitorFirstReasonWins(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.InstructionLimit = 1
	limits.MemoryLimit = 1
	rm := NewResourceMonitor(limits)

	rm.IncrementInstructions(10)
	first := rm.ExceededReason()
	rm.UpdateMemoryUsage(10)

	if rm.ExceededReason() != first {
		t.Errorf("ExceededReason() = %q, want first reason %q preserved", rm.ExceededReason(), first)
	}
}

func TestResourceMonitorReset(t *testing.T) {
	limits := DefaultResourceLimits()
	limits.InstructionLimit = 1
	rm := NewResourceMonitor(limits)

	rm.IncrementInstructions(10)
	rm.Reset()

	if rm.IsExceeded() {
		t.Error("IsExceeded() = true after Reset")
	}
	if rm.InstructionCount() != 0 {
		t.Errorf("InstructionCount() = %d after Reset, want 0", rm.InstructionCount())
	}
}

func TestResourceMonitorGetUsage(t *testing.T) {
	rm := NewResourceMonitor(DefaultResourceLimits())

	rm.IncrementInstructions(42)
	rm.UpdateMemoryUsage(1024)
	rm.AddLogLine()

	usage := rm.GetUsage()
	if usage.InstructionCount != 42 {
		t.Errorf("usage.InstructionCount = %d, want 42", usage.InstructionCount)
	}
	if usage.MemoryUsage != 1024 {
		t.Errorf("usage.MemoryUsage = %d, want 1024", usage.MemoryUsage)
	}
	if usage.LogLines != 1 {
		t.Errorf("usage.LogLines = %d, want 1", usage.LogLines)
	}
	if usage.Exceeded {
		t.Error("usage.Exceeded = true, want false")
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2)

	if !rl.Allow() {
		t.Error("first Allow() should succeed")
	}
	if !rl.Allow() {
		t.Error("second Allow() should succeed")
	}
	if rl.Allow() {
		t.Error("third Allow() within the same second should fail")
	}
}

func TestRateLimiterUnlimitedZeroRate(t *testing.T) {
	rl := NewRateLimiter(0)

	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() call %d failed on unlimited limiter", i)
		}
	}
}

func TestRateLimiterResetRefillsBucket(t *testing.T) {
	rl := NewRateLimiter(1)

	rl.Allow()
	if rl.Allow() {
		t.Error("Allow() should fail with exhausted bucket")
	}

	rl.Reset()
	if !rl.Allow() {
		t.Error("Allow() should succeed after Reset")
	}
}
