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
)

// AllocatorFactory constructs allocators on demand for the registry.
type AllocatorFactory interface {
	CreateAllocator() Allocator
	CreateSubAllocator(numaNode int) SubAllocator
}

// RegistryEntry is one registration. Names need not be unique; ties are
// resolved at lookup time by priority and registration order.
type RegistryEntry struct {
	Name     string
	Priority int
	Factory  AllocatorFactory
}

// AllocatorRegistry is a process-wide table mapping name and priority to
// a factory. Registration never fails; all conflict resolution happens
// at lookup time so the result is deterministic regardless of what was
// registered.
type AllocatorRegistry struct {
	mu      sync.RWMutex
	entries []RegistryEntry
}

func NewAllocatorRegistry() *AllocatorRegistry {
	return new(AllocatorRegistry)
}

func (r *AllocatorRegistry) Register(name string, priority int, factory AllocatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, RegistryEntry{
		Name:     name,
		Priority: priority,
		Factory:  factory,
	})
}

// Resolve returns the factory with the highest priority, the process
// default. When several entries share the highest priority the earliest
// registration wins. Returns nil on an empty registry.
func (r *AllocatorRegistry) Resolve() AllocatorFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *RegistryEntry
	for i := range r.entries {
		if best == nil || r.entries[i].Priority > best.Priority {
			best = &r.entries[i]
		}
	}
	if best == nil {
		return nil
	}
	return best.Factory
}

// Lookup returns the highest-priority factory registered under name,
// with the same tie-break as Resolve.
func (r *AllocatorRegistry) Lookup(name string) (AllocatorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *RegistryEntry
	for i := range r.entries {
		if r.entries[i].Name != name {
			continue
		}
		if best == nil || r.entries[i].Priority > best.Priority {
			best = &r.entries[i]
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Factory, true
}

// Entries returns a snapshot of all registrations in registration order.
func (r *AllocatorRegistry) Entries() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]RegistryEntry, len(r.entries))
	copy(snapshot, r.entries)
	return snapshot
}

// DefaultRegistry is the process-wide registry instance.
var DefaultRegistry = NewAllocatorRegistry()

func Register(name string, priority int, factory AllocatorFactory) {
	DefaultRegistry.Register(name, priority, factory)
}

func Resolve() AllocatorFactory {
	return DefaultRegistry.Resolve()
}

func Lookup(name string) (AllocatorFactory, bool) {
	return DefaultRegistry.Lookup(name)
}
