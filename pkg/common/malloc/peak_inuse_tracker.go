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
	"sync/atomic"
	"time"
)

// PeakInuse is a high-water mark observation.
type PeakInuse struct {
	Value uint64
	Time  time.Time
}

// PeakInuseTracker records the largest in-use byte count observed across
// all tracking allocators. Updates are lock-free.
type PeakInuseTracker struct {
	ptr atomic.Pointer[PeakInuse]
}

var GlobalPeakInuseTracker = func() *PeakInuseTracker {
	ret := new(PeakInuseTracker)
	ret.ptr.Store(&PeakInuse{})
	return ret
}()

func (p *PeakInuseTracker) Update(n uint64) {
	for {
		// read
		ptr := p.ptr.Load()
		if n <= ptr.Value {
			return
		}
		// update
		if p.ptr.CompareAndSwap(ptr, &PeakInuse{
			Value: n,
			Time:  time.Now(),
		}) {
			return
		}
	}
}

func (p *PeakInuseTracker) Peak() PeakInuse {
	return *p.ptr.Load()
}
