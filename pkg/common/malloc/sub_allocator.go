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
	"unsafe"
)

// EVSubAllocator adapts an EVAllocator to the large-block SubAllocator
// contract. It does not own the wrapped allocator's memory. The NUMA
// node is opaque input, carried for routing by callers but unused here.
type EVSubAllocator struct {
	allocator *EVAllocator
	numaNode  int
}

var _ SubAllocator = new(EVSubAllocator)

func NewEVSubAllocator(allocator *EVAllocator, numaNode int) *EVSubAllocator {
	return &EVSubAllocator{
		allocator: allocator,
		numaNode:  numaNode,
	}
}

func (s *EVSubAllocator) Alloc(alignment, numBytes uint64) unsafe.Pointer {
	return s.allocator.AllocateRaw(alignment, numBytes)
}

// Free ignores numBytes; the wrapped allocator recomputes the reported
// size itself.
func (s *EVSubAllocator) Free(ptr unsafe.Pointer, numBytes uint64) {
	s.allocator.DeallocateRaw(ptr)
}

func (s *EVSubAllocator) NumaNode() int {
	return s.numaNode
}
