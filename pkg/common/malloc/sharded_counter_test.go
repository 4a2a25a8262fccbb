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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardedCounter(t *testing.T) {
	c := NewShardedCounter[int64, atomic.Int64](4)

	const workers = 16
	const iterations = 10000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				c.Add(2)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(workers*iterations*2), c.Load())

	var drained int64
	c.Each(func(v *atomic.Int64) {
		drained += v.Swap(0)
	})
	require.Equal(t, int64(workers*iterations*2), drained)
	require.Equal(t, int64(0), c.Load())
}

func TestShardedCounterUnsigned(t *testing.T) {
	c := NewShardedCounter[uint64, atomic.Uint64](8)
	c.Add(1)
	c.Add(41)
	require.Equal(t, uint64(42), c.Load())
}
