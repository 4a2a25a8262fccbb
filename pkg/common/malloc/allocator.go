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

// Package malloc implements a pluggable memory-allocation subsystem: a
// tracking allocator over the raw aligned-memory primitive, a
// sub-allocator adapter for NUMA-scoped block contracts, and a
// process-wide registry that selects allocator implementations by name
// and priority.
package malloc

import (
	"unsafe"
)

// Allocator is the general-purpose allocation contract. AllocateRaw and
// DeallocateRaw never return errors; true out-of-memory follows the raw
// primitive's process-fatal policy.
type Allocator interface {
	Name() string

	// AllocateRaw returns a pointer to numBytes of memory. The
	// alignment argument is accepted for interface compatibility but
	// implementations only guarantee 8-byte alignment.
	AllocateRaw(alignment, numBytes uint64) unsafe.Pointer

	// DeallocateRaw frees a pointer previously returned by AllocateRaw
	// of the same instance. Passing any other pointer is undefined
	// behavior.
	DeallocateRaw(ptr unsafe.Pointer)

	GetStats() AllocatorStats
	ClearStats()

	// AllocatedSizeSlow returns the number of bytes the underlying
	// allocator accounts for ptr. Potentially expensive, not for hot
	// paths.
	AllocatedSizeSlow(ptr unsafe.Pointer) uint64
}

// SubAllocator is the narrower large-block contract used by callers that
// allocate NUMA-scoped regions rather than individual objects.
type SubAllocator interface {
	Alloc(alignment, numBytes uint64) unsafe.Pointer

	// Free accepts numBytes for interface compatibility; the size is
	// recomputed from the wrapped allocator's accounting.
	Free(ptr unsafe.Pointer, numBytes uint64)
}

// RawMemory is the aligned raw-memory primitive the tracking allocator
// is built on. pkg/common/memsys provides the default implementation.
type RawMemory interface {
	AlignedAlloc(numBytes, alignment uint64) unsafe.Pointer
	AlignedFree(ptr unsafe.Pointer)
	ReportedAllocatedSize(ptr unsafe.Pointer) uint64
	AvailableSystemMemory() uint64
}

// AllocatorStats captures allocation counters. BytesInUse is based on
// the reported size of each allocation, which may exceed the requested
// size.
type AllocatorStats struct {
	NumAllocs        int64
	BytesInUse       int64
	PeakBytesInUse   int64
	LargestAllocSize int64
}
