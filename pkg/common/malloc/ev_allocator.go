// Copyright 2024 EVMem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/evmem/evalloc/pkg/common/memsys"
	"github.com/evmem/evalloc/pkg/logutil"
)

// EVAllocator decorates the raw aligned-memory primitive with usage
// statistics and capped threshold warnings. Safe for concurrent use.
type EVAllocator struct {
	mem     RawMemory
	limits  Limits
	collect *atomic.Bool

	mu                          sync.Mutex
	stats                       AllocatorStats
	totalAllocationWarningCount int // guarded by mu

	// single-allocation warnings use an atomic so the allocate path
	// never touches the stats lock when only the size check fires
	singleAllocationWarningCount atomic.Int32
}

var _ Allocator = new(EVAllocator)

// NewEVAllocator returns a fresh allocator backed by memsys.Default and
// the process-wide limits and stats switch.
func NewEVAllocator() *EVAllocator {
	return newEVAllocator(memsys.Default, DefaultLimits(), &collectStats)
}

func newEVAllocator(mem RawMemory, limits Limits, collect *atomic.Bool) *EVAllocator {
	return &EVAllocator{
		mem:     mem,
		limits:  limits,
		collect: collect,
	}
}

func (a *EVAllocator) Name() string {
	return "ev_allocator"
}

// AllocateRaw allocates numBytes. The alignment argument is ignored and
// the result is always 8-byte aligned; callers requesting wider
// alignment are not honored. This matches the long-standing behavior
// existing callers depend on.
func (a *EVAllocator) AllocateRaw(alignment, numBytes uint64) unsafe.Pointer {
	if numBytes > a.limits.LargeAllocationWarningBytes &&
		a.singleAllocationWarningCount.Load() < maxSingleAllocationWarnings {
		a.singleAllocationWarningCount.Add(1)
		logutil.Warn("single allocation exceeds system memory threshold",
			zap.Uint64("bytes", numBytes),
			zap.Float64("percent", a.limits.LargeAllocationWarningFraction*100),
		)
	}

	const alignTo = 8
	ptr := a.mem.AlignedAlloc(numBytes, alignTo)

	if a.collect.Load() {
		allocSize := int64(a.mem.ReportedAllocatedSize(ptr))
		a.mu.Lock()
		a.stats.NumAllocs++
		a.stats.BytesInUse += allocSize
		if a.stats.BytesInUse > a.stats.PeakBytesInUse {
			a.stats.PeakBytesInUse = a.stats.BytesInUse
		}
		if allocSize > a.stats.LargestAllocSize {
			a.stats.LargestAllocSize = allocSize
		}
		inUse := a.stats.BytesInUse
		if a.stats.BytesInUse > int64(a.limits.TotalAllocationWarningBytes) &&
			a.totalAllocationWarningCount < maxTotalAllocationWarnings {
			a.totalAllocationWarningCount++
			logutil.Warn("total allocated memory exceeds system memory threshold",
				zap.Int64("bytes in use", a.stats.BytesInUse),
				zap.Float64("percent", a.limits.TotalAllocationWarningFraction*100),
			)
		}
		a.mu.Unlock()
		GlobalPeakInuseTracker.Update(uint64(inUse))
	}

	return ptr
}

func (a *EVAllocator) DeallocateRaw(ptr unsafe.Pointer) {
	if a.collect.Load() {
		allocSize := int64(a.mem.ReportedAllocatedSize(ptr))
		a.mu.Lock()
		a.stats.BytesInUse -= allocSize
		a.mu.Unlock()
	}
	a.mem.AlignedFree(ptr)
}

// GetStats returns a snapshot of the current statistics.
func (a *EVAllocator) GetStats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// ClearStats resets the counters. BytesInUse is left untouched since it
// reflects genuinely live memory; peak tracking restarts from the
// current value.
func (a *EVAllocator) ClearStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.NumAllocs = 0
	a.stats.PeakBytesInUse = a.stats.BytesInUse
	a.stats.LargestAllocSize = 0
}

func (a *EVAllocator) AllocatedSizeSlow(ptr unsafe.Pointer) uint64 {
	return a.mem.ReportedAllocatedSize(ptr)
}

func init() {
	Register("EVAllocator", 20, EVAllocatorFactory{})
}
