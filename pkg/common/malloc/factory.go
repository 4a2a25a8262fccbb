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

// EVAllocatorFactory constructs EVAllocator instances. Every call
// returns a fresh allocator; instances are never shared across calls.
// Construction cannot fail.
type EVAllocatorFactory struct{}

var _ AllocatorFactory = EVAllocatorFactory{}

func (EVAllocatorFactory) CreateAllocator() Allocator {
	return NewEVAllocator()
}

func (EVAllocatorFactory) CreateSubAllocator(numaNode int) SubAllocator {
	return NewEVSubAllocator(NewEVAllocator(), numaNode)
}
