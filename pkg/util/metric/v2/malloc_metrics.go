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

package v2

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MallocAllocateBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ev",
			Subsystem: "malloc",
			Name:      "allocate_bytes",
			Help:      "Counter of bytes handed out by the allocator.",
		})

	MallocInuseBytesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ev",
			Subsystem: "malloc",
			Name:      "inuse_bytes",
			Help:      "Gauge of live allocated bytes.",
		})

	MallocAllocateObjectsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ev",
			Subsystem: "malloc",
			Name:      "allocate_objects",
			Help:      "Counter of allocations.",
		})

	MallocInuseObjectsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ev",
			Subsystem: "malloc",
			Name:      "inuse_objects",
			Help:      "Gauge of live allocations.",
		})
)

func init() {
	prometheus.MustRegister(
		MallocAllocateBytesCounter,
		MallocInuseBytesGauge,
		MallocAllocateObjectsCounter,
		MallocInuseObjectsGauge,
	)
}
