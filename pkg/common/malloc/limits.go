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

	"github.com/evmem/evalloc/pkg/common/memsys"
)

const (
	maxSingleAllocationWarnings = 5
	maxTotalAllocationWarnings  = 1

	defaultLargeAllocationWarningFraction = 0.1
	defaultTotalAllocationWarningFraction = 0.5
)

// Limits holds the warning thresholds in bytes, computed once from the
// system RAM and immutable afterwards. The fractions are kept for
// diagnostics.
type Limits struct {
	LargeAllocationWarningBytes uint64
	TotalAllocationWarningBytes uint64

	LargeAllocationWarningFraction float64
	TotalAllocationWarningFraction float64
}

func ComputeLimits(mem RawMemory, largeFraction, totalFraction float64) Limits {
	avail := float64(mem.AvailableSystemMemory())
	return Limits{
		LargeAllocationWarningBytes:    uint64(avail * largeFraction),
		TotalAllocationWarningBytes:    uint64(avail * totalFraction),
		LargeAllocationWarningFraction: largeFraction,
		TotalAllocationWarningFraction: totalFraction,
	}
}

var defaultLimits = struct {
	sync.Mutex
	computed      bool
	largeFraction float64
	totalFraction float64
	limits        Limits
}{
	largeFraction: defaultLargeAllocationWarningFraction,
	totalFraction: defaultTotalAllocationWarningFraction,
}

// SetLimitFractions overrides the warning thresholds as fractions of
// system memory. It has no effect once the limits have been computed;
// the return value reports whether the override took.
func SetLimitFractions(large, total float64) bool {
	defaultLimits.Lock()
	defer defaultLimits.Unlock()
	if defaultLimits.computed {
		return false
	}
	defaultLimits.largeFraction = large
	defaultLimits.totalFraction = total
	return true
}

// DefaultLimits returns the process-wide limits, computing them from
// memsys on first use. The system RAM query is cached, so this is cheap
// after initialization.
func DefaultLimits() Limits {
	defaultLimits.Lock()
	defer defaultLimits.Unlock()
	if !defaultLimits.computed {
		defaultLimits.limits = ComputeLimits(
			memsys.Default,
			defaultLimits.largeFraction,
			defaultLimits.totalFraction,
		)
		defaultLimits.computed = true
	}
	return defaultLimits.limits
}

// collectStats is the process-wide statistics switch. Default off: the
// tracking allocator skips all lock acquisition and bookkeeping, trading
// observability for allocate/deallocate latency.
var collectStats atomic.Bool

func SetCollectStats(enable bool) {
	collectStats.Store(enable)
}

func StatsCollectionEnabled() bool {
	return collectStats.Load()
}
