package hdf5sql

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
)

// Memory management constants
const (
	// defaultMemoryLimitMB is the limit applied when none is given
	defaultMemoryLimitMB = 512
	// maxReasonableMemoryLimitMB caps configured limits at 64GB
	maxReasonableMemoryLimitMB = 64 * 1024

	// Memory warning threshold
	defaultWarningThreshold = 0.8 // 80%

	// Memory conversion constants
	bytesPerMB = 1024 * 1024

	// Atomic operation values
	atomicEnabled  = 1
	atomicDisabled = 0
)

// MemoryLimit provides configurable memory limits with graceful degradation
// for dataset decoding and Arrow export. It monitors heap usage and reports
// when thresholds are crossed.
//
// The monitor reports three states:
//   - OK: Memory usage is within acceptable limits
//   - WARNING: Memory usage approaches the limit
//   - EXCEEDED: Memory usage has exceeded the limit, processing should stop
//
// Usage example:
//
//	limit := hdf5sql.NewMemoryLimit(512) // 512MB limit
//	if limit.CheckMemoryUsage() == hdf5sql.MemoryStatusExceeded {
//	    return limit.CreateMemoryError("dataset scan")
//	}
//
// Performance Note: CheckMemoryUsage() calls runtime.ReadMemStats which can
// pause for milliseconds. Use sparingly in hot paths.
//
// Thread Safety: All methods are safe for concurrent use by multiple goroutines.
type MemoryLimit struct {
	maxMemoryMB      int64   // Maximum memory limit in MB
	warningThreshold float64 // Warning threshold as percentage (0.0-1.0)
	enabled          int32   // Atomic flag for enable/disable
}

// NewMemoryLimit creates a new memory limit configuration
func NewMemoryLimit(maxMemoryMB int64) *MemoryLimit {
	if maxMemoryMB <= 0 {
		maxMemoryMB = defaultMemoryLimitMB
	}

	// Validate upper bound to prevent unreasonable memory limits
	if maxMemoryMB > maxReasonableMemoryLimitMB {
		maxMemoryMB = maxReasonableMemoryLimitMB
	}

	return &MemoryLimit{
		maxMemoryMB:      maxMemoryMB,
		warningThreshold: defaultWarningThreshold,
		enabled:          atomicEnabled,
	}
}

// IsEnabled returns whether memory limits are enabled
func (ml *MemoryLimit) IsEnabled() bool {
	return atomic.LoadInt32(&ml.enabled) == atomicEnabled
}

// Enable enables memory limit checking
func (ml *MemoryLimit) Enable() {
	atomic.StoreInt32(&ml.enabled, atomicEnabled)
}

// Disable disables memory limit checking
func (ml *MemoryLimit) Disable() {
	atomic.StoreInt32(&ml.enabled, atomicDisabled)
}

// SetWarningThreshold sets the warning threshold (0.0-1.0)
func (ml *MemoryLimit) SetWarningThreshold(threshold float64) {
	if threshold > 0.0 && threshold <= 1.0 {
		ml.warningThreshold = threshold
	}
}

// heapAllocMB returns the current heap allocation in MB. Heap sizes beyond
// int64 range are capped, which cannot happen on realistic systems.
func heapAllocMB() int64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	allocMB := memStats.HeapAlloc / bytesPerMB
	if allocMB > uint64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(allocMB)
}

// CheckMemoryUsage checks current memory usage against limits
func (ml *MemoryLimit) CheckMemoryUsage() MemoryStatus {
	if !ml.IsEnabled() {
		return MemoryStatusOK
	}

	currentMB := heapAllocMB()
	if currentMB >= ml.maxMemoryMB {
		return MemoryStatusExceeded
	}

	usage := float64(currentMB) / float64(ml.maxMemoryMB)
	if usage >= ml.warningThreshold {
		return MemoryStatusWarning
	}
	return MemoryStatusOK
}

// GetMemoryInfo returns current memory usage information
func (ml *MemoryLimit) GetMemoryInfo() MemoryInfo {
	currentMB := heapAllocMB()
	return MemoryInfo{
		CurrentMB: currentMB,
		LimitMB:   ml.maxMemoryMB,
		Usage:     float64(currentMB) / float64(ml.maxMemoryMB),
		Status:    ml.CheckMemoryUsage(),
	}
}

// CreateMemoryError creates a memory limit error with helpful context.
// The returned error matches ErrMemoryLimit with errors.Is.
func (ml *MemoryLimit) CreateMemoryError(operation string) error {
	info := ml.GetMemoryInfo()
	return fmt.Errorf(
		"%w during %s: using %d MB / %d MB (%.1f%%), "+
			"consider reducing the batch size or increasing the memory limit",
		ErrMemoryLimit, operation, info.CurrentMB, info.LimitMB, info.Usage*100,
	)
}

// MemoryStatus represents the current memory status
type MemoryStatus int

// Memory status constants
const (
	// MemoryStatusOK indicates memory usage is within acceptable limits
	MemoryStatusOK MemoryStatus = iota
	// MemoryStatusWarning indicates memory usage is approaching the limit
	MemoryStatusWarning
	// MemoryStatusExceeded indicates memory usage has exceeded the limit
	MemoryStatusExceeded
)

// String returns string representation of memory status
func (ms MemoryStatus) String() string {
	switch ms {
	case MemoryStatusOK:
		return "OK"
	case MemoryStatusWarning:
		return "WARNING"
	case MemoryStatusExceeded:
		return "EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// MemoryInfo contains detailed memory usage information
type MemoryInfo struct {
	CurrentMB int64        // Current memory usage in MB
	LimitMB   int64        // Memory limit in MB
	Usage     float64      // Usage percentage (0.0-1.0)
	Status    MemoryStatus // Current status
}
