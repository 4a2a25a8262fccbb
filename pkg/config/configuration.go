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

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/evmem/evalloc/pkg/logutil"
)

// AllocatorParameters of the allocation subsystem
type AllocatorParameters struct {
	// name of the registered allocator to use. empty selects the
	// highest-priority registration
	Allocator string `toml:"allocator"`

	// collect allocator statistics. default: false
	CollectStats bool `toml:"collect-stats"`

	// individual allocations above this fraction of system memory
	// trigger a warning. default: 0.1
	LargeAllocationWarningFraction float64 `toml:"large-allocation-warning-fraction"`

	// total allocated memory above this fraction of system memory
	// triggers a warning. default: 0.5
	TotalAllocationWarningFraction float64 `toml:"total-allocation-warning-fraction"`

	// listen address for the prometheus /metrics endpoint. empty
	// disables the endpoint
	MetricsAddr string `toml:"metrics-addr"`
}

type Config struct {
	Log       logutil.LogConfig   `toml:"log"`
	Allocator AllocatorParameters `toml:"allocator"`
}

func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 512
	}
	if c.Allocator.LargeAllocationWarningFraction == 0 {
		c.Allocator.LargeAllocationWarningFraction = 0.1
	}
	if c.Allocator.TotalAllocationWarningFraction == 0 {
		c.Allocator.TotalAllocationWarningFraction = 0.5
	}
}

// Load parses a toml config file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}
