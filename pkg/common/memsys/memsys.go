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

// Package memsys provides the aligned raw-memory primitive backing the
// allocators in pkg/common/malloc: aligned allocate and free, a queryable
// allocated-size-for-pointer operation, and a system RAM query.
package memsys

import (
	"os"
	"sync"
	"unsafe"
)

const (
	minClassSize    = 16
	classSizeFactor = 1.5

	// MmapThreshold is the request size at which allocations leave the
	// heap size classes and are served by anonymous mmap instead.
	MmapThreshold = 128 * 1024

	numShards = 16
)

var classSizes = func() (ret []uint64) {
	for size := uint64(minClassSize); size < MmapThreshold; size = uint64(float64(size) * classSizeFactor) {
		ret = append(ret, size)
	}
	return
}()

// roundToClass returns the smallest class size that fits n, or 0 when n
// is too large for the heap classes.
func roundToClass(n uint64) uint64 {
	for _, size := range classSizes {
		if size >= n {
			return size
		}
	}
	return 0
}

func roundToPage(n uint64) uint64 {
	pageSize := uint64(os.Getpagesize())
	return (n + pageSize - 1) &^ (pageSize - 1)
}

type block struct {
	data    []byte
	size    uint64
	mmapped bool
}

// The shard maps keep heap-backed blocks reachable so the runtime does
// not collect them while a raw pointer is outstanding.
type shard struct {
	sync.Mutex
	blocks map[uintptr]block
}

// System is the default raw-memory implementation. Requests below
// MmapThreshold come from the Go heap rounded up to a size class;
// larger ones come from anonymous mmap rounded up to whole pages.
// ReportedAllocatedSize returns the rounded size, which may exceed the
// requested size.
type System struct {
	shards [numShards]shard

	availOnce sync.Once
	avail     uint64
}

func New() *System {
	s := new(System)
	for i := range s.shards {
		s.shards[i].blocks = make(map[uintptr]block)
	}
	return s
}

var Default = New()

func (s *System) shardOf(ptr unsafe.Pointer) *shard {
	return &s.shards[(uintptr(ptr)>>4)%numShards]
}

// AlignedAlloc allocates numBytes of zeroed memory. The returned pointer
// is at least 8-byte aligned; stricter alignment requests are not
// honored. True out-of-memory in the mmap path panics, allocation is not
// a recoverable error at this layer.
func (s *System) AlignedAlloc(numBytes, alignment uint64) unsafe.Pointer {
	if numBytes == 0 {
		numBytes = 1
	}

	var b block
	if class := roundToClass(numBytes); class != 0 {
		// heap classes are at least 16 bytes, the runtime keeps
		// those 8-byte aligned
		b = block{
			data: make([]byte, class),
			size: class,
		}
	} else {
		rounded := roundToPage(numBytes)
		data, err := mmapAlloc(rounded)
		if err != nil {
			panic(err)
		}
		b = block{
			data:    data,
			size:    rounded,
			mmapped: true,
		}
	}

	ptr := unsafe.Pointer(unsafe.SliceData(b.data))
	sh := s.shardOf(ptr)
	sh.Lock()
	sh.blocks[uintptr(ptr)] = b
	sh.Unlock()
	return ptr
}

// AlignedFree releases a pointer obtained from AlignedAlloc. Freeing any
// other pointer is a caller error and is ignored.
func (s *System) AlignedFree(ptr unsafe.Pointer) {
	sh := s.shardOf(ptr)
	sh.Lock()
	b, ok := sh.blocks[uintptr(ptr)]
	delete(sh.blocks, uintptr(ptr))
	sh.Unlock()
	if ok && b.mmapped {
		if err := mmapFree(b.data); err != nil {
			panic(err)
		}
	}
}

// ReportedAllocatedSize returns the number of bytes accounted for ptr,
// or 0 for an unknown pointer.
func (s *System) ReportedAllocatedSize(ptr unsafe.Pointer) uint64 {
	sh := s.shardOf(ptr)
	sh.Lock()
	defer sh.Unlock()
	return sh.blocks[uintptr(ptr)].size
}

// AvailableSystemMemory returns the total RAM of the machine. The query
// can be expensive, so the first result is cached.
func (s *System) AvailableSystemMemory() uint64 {
	s.availOnce.Do(func() {
		s.avail = availableRAM()
	})
	return s.avail
}
