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
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsAllocator decorates an Allocator with prometheus metrics.
// Updates go to sharded atomic counters and are flushed to the
// collectors at most once a second, keeping the allocate path free of
// prometheus overhead.
type MetricsAllocator struct {
	upstream Allocator

	allocateBytesCounter   prometheus.Counter
	inuseBytesGauge        prometheus.Gauge
	allocateObjectsCounter prometheus.Counter
	inuseObjectsGauge      prometheus.Gauge

	allocateBytes   ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	inuseBytes      ShardedCounter[int64, atomic.Int64, *atomic.Int64]
	allocateObjects ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	inuseObjects    ShardedCounter[int64, atomic.Int64, *atomic.Int64]

	updating atomic.Bool
}

var _ Allocator = new(MetricsAllocator)

func NewMetricsAllocator(
	upstream Allocator,
	allocateBytesCounter prometheus.Counter,
	inuseBytesGauge prometheus.Gauge,
	allocateObjectsCounter prometheus.Counter,
	inuseObjectsGauge prometheus.Gauge,
) *MetricsAllocator {
	ret := &MetricsAllocator{
		upstream:               upstream,
		allocateBytesCounter:   allocateBytesCounter,
		inuseBytesGauge:        inuseBytesGauge,
		allocateObjectsCounter: allocateObjectsCounter,
		inuseObjectsGauge:      inuseObjectsGauge,
	}

	ret.allocateBytes = *NewShardedCounter[uint64, atomic.Uint64](runtime.GOMAXPROCS(0))
	ret.inuseBytes = *NewShardedCounter[int64, atomic.Int64](runtime.GOMAXPROCS(0))
	ret.allocateObjects = *NewShardedCounter[uint64, atomic.Uint64](runtime.GOMAXPROCS(0))
	ret.inuseObjects = *NewShardedCounter[int64, atomic.Int64](runtime.GOMAXPROCS(0))

	return ret
}

func (m *MetricsAllocator) Name() string {
	return m.upstream.Name()
}

func (m *MetricsAllocator) AllocateRaw(alignment, numBytes uint64) unsafe.Pointer {
	ptr := m.upstream.AllocateRaw(alignment, numBytes)
	size := m.upstream.AllocatedSizeSlow(ptr)

	m.allocateBytes.Add(size)
	m.inuseBytes.Add(int64(size))
	m.allocateObjects.Add(1)
	m.inuseObjects.Add(1)
	m.triggerUpdate()

	return ptr
}

func (m *MetricsAllocator) DeallocateRaw(ptr unsafe.Pointer) {
	size := m.upstream.AllocatedSizeSlow(ptr)
	m.upstream.DeallocateRaw(ptr)

	m.inuseBytes.Add(-int64(size))
	m.inuseObjects.Add(-1)
	m.triggerUpdate()
}

func (m *MetricsAllocator) GetStats() AllocatorStats {
	return m.upstream.GetStats()
}

func (m *MetricsAllocator) ClearStats() {
	m.upstream.ClearStats()
}

func (m *MetricsAllocator) AllocatedSizeSlow(ptr unsafe.Pointer) uint64 {
	return m.upstream.AllocatedSizeSlow(ptr)
}

func (m *MetricsAllocator) triggerUpdate() {
	if m.updating.CompareAndSwap(false, true) {
		time.AfterFunc(time.Second, func() {

			if m.allocateBytesCounter != nil {
				var n uint64
				m.allocateBytes.Each(func(v *atomic.Uint64) {
					n += v.Swap(0)
				})
				m.allocateBytesCounter.Add(float64(n))
			}

			if m.inuseBytesGauge != nil {
				var n int64
				m.inuseBytes.Each(func(v *atomic.Int64) {
					n += v.Swap(0)
				})
				m.inuseBytesGauge.Add(float64(n))
			}

			if m.allocateObjectsCounter != nil {
				var n uint64
				m.allocateObjects.Each(func(v *atomic.Uint64) {
					n += v.Swap(0)
				})
				m.allocateObjectsCounter.Add(float64(n))
			}

			if m.inuseObjectsGauge != nil {
				var n int64
				m.inuseObjects.Each(func(v *atomic.Int64) {
					n += v.Swap(0)
				})
				m.inuseObjectsGauge.Add(float64(n))
			}

			m.updating.Store(false)
		})
	}
}
