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

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evmem/evalloc/pkg/config"
)

func TestResolveCollectStats(t *testing.T) {
	cfg := new(config.Config)

	// config file value holds when the flag was not passed
	cfg.Allocator.CollectStats = true
	require.True(t, resolveCollectStats(cfg, false, false))
	cfg.Allocator.CollectStats = false
	require.False(t, resolveCollectStats(cfg, false, true))

	// an explicitly passed flag wins either way
	cfg.Allocator.CollectStats = true
	require.False(t, resolveCollectStats(cfg, true, false))
	cfg.Allocator.CollectStats = false
	require.True(t, resolveCollectStats(cfg, true, true))
}
