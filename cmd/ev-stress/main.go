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

// ev-stress exercises the registered allocator with a concurrent
// allocate/free workload and reports statistics, optionally exposing
// prometheus metrics while it runs.
package main

import (
	"flag"
	"math/rand"
	"net/http"
	"sync"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/evmem/evalloc/pkg/common/malloc"
	"github.com/evmem/evalloc/pkg/config"
	"github.com/evmem/evalloc/pkg/logutil"
	metric "github.com/evmem/evalloc/pkg/util/metric/v2"
)

var (
	configFile  = flag.String("config", "", "path to toml config file")
	concurrency = flag.Int("concurrency", 8, "number of concurrent workers")
	iterations  = flag.Int("iterations", 100000, "allocations per worker")
	maxSize     = flag.Int("max-size", 1<<20, "maximum single allocation in bytes")
	collect     = flag.Bool("collect-stats", false, "enable allocator statistics, overrides the config file when passed")
)

// resolveCollectStats prefers an explicitly passed flag over the config
// file value; an untouched flag default never overrides the config.
func resolveCollectStats(cfg *config.Config, flagSet, flagValue bool) bool {
	if flagSet {
		return flagValue
	}
	return cfg.Allocator.CollectStats
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func main() {
	flag.Parse()

	cfg := new(config.Config)
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			logutil.Fatal("load config", zap.Error(err))
		}
	} else {
		cfg.SetDefaults()
	}
	logutil.SetupLogger(&cfg.Log)

	malloc.SetLimitFractions(
		cfg.Allocator.LargeAllocationWarningFraction,
		cfg.Allocator.TotalAllocationWarningFraction,
	)
	malloc.SetCollectStats(resolveCollectStats(cfg, flagWasSet("collect-stats"), *collect))

	factory := malloc.Resolve()
	if cfg.Allocator.Allocator != "" {
		f, ok := malloc.Lookup(cfg.Allocator.Allocator)
		if !ok {
			logutil.Fatal("unknown allocator",
				zap.String("name", cfg.Allocator.Allocator))
		}
		factory = f
	}
	if factory == nil {
		logutil.Fatal("no allocator registered")
	}

	if cfg.Allocator.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Allocator.MetricsAddr, nil); err != nil {
				logutil.Error("metrics server", zap.Error(err))
			}
		}()
		logutil.Info("serving metrics",
			zap.String("addr", cfg.Allocator.MetricsAddr))
	}

	allocator := malloc.NewMetricsAllocator(
		factory.CreateAllocator(),
		metric.MallocAllocateBytesCounter,
		metric.MallocInuseBytesGauge,
		metric.MallocAllocateObjectsCounter,
		metric.MallocInuseObjectsGauge,
	)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			live := make([]unsafe.Pointer, 0, 64)
			for j := 0; j < *iterations; j++ {
				size := uint64(rnd.Intn(*maxSize) + 1)
				live = append(live, allocator.AllocateRaw(8, size))
				if len(live) == cap(live) || rnd.Intn(4) == 0 {
					for _, ptr := range live {
						allocator.DeallocateRaw(ptr)
					}
					live = live[:0]
				}
			}
			for _, ptr := range live {
				allocator.DeallocateRaw(ptr)
			}
		}(int64(i))
	}
	wg.Wait()

	stats := allocator.GetStats()
	logutil.Info("workload done",
		zap.String("allocator", allocator.Name()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("num allocs", stats.NumAllocs),
		zap.Int64("bytes in use", stats.BytesInUse),
		zap.Int64("peak bytes in use", stats.PeakBytesInUse),
		zap.Int64("largest alloc size", stats.LargestAllocSize),
		zap.Uint64("global peak inuse", malloc.GlobalPeakInuseTracker.Peak().Value),
	)
}
