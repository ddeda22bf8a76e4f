// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"k8s.io/utils/cpuset"
)

var (
	// ErrTopologyNotFound is returned when the OS topology source yields no mapping
	ErrTopologyNotFound = errors.New("topology not found")

	// ErrTopologyUnavailable is returned when no discovery path yields a mapping
	ErrTopologyUnavailable = errors.New("topology unavailable")
)

// Core is a physical core and the logical threads it runs
type Core struct {
	Threads cpuset.CPUSet
	Type    CoreType
}

// Thread is a logical CPU and the physical core it belongs to
type Thread struct {
	Core int
	Type CoreType
}

// Layout is the thread to core mapping of the machine. Every thread appears
// in exactly one core's thread set and Threads is the inverse of Cores.
type Layout struct {
	PhysicalCores int
	Cores         map[int]Core
	Threads       map[int]Thread
}

func newLayout() *Layout {
	return &Layout{
		Cores:   map[int]Core{},
		Threads: map[int]Thread{},
	}
}

// add records thread on core. A core first seen with an unknown type takes
// the type of a later thread that reports a concrete one.
func (l *Layout) add(thread, core int, t CoreType) {
	c, ok := l.Cores[core]
	if !ok {
		c = Core{Threads: cpuset.New(), Type: t}
	}
	c.Threads = c.Threads.Union(cpuset.New(thread))
	if c.Type == CoreTypeUnknown && t != CoreTypeUnknown {
		c.Type = t
	}
	l.Cores[core] = c
	l.Threads[thread] = Thread{Core: core, Type: t}
	l.PhysicalCores = len(l.Cores)
}

func (l *Layout) empty() bool {
	return len(l.Threads) == 0
}

// Topology is the discovered CPU layout together with the vendor specific
// mapper used to read it
type Topology struct {
	Vendor        Vendor
	PhysicalCores int
	Cores         map[int]Core
	Threads       map[int]Thread
	Mapper        Mapper
}

// Discover builds the topology of the machine using mapper
func Discover(mapper Mapper) (*Topology, error) {
	layout, err := mapper.DiscoverLayout()
	if err != nil {
		return nil, err
	}

	return &Topology{
		Vendor:        mapper.Vendor(),
		PhysicalCores: layout.PhysicalCores,
		Cores:         layout.Cores,
		Threads:       layout.Threads,
		Mapper:        mapper,
	}, nil
}

// Clone returns a deep copy of the topology. The copy can be modified and
// used from another goroutine independently of the original.
func (t *Topology) Clone() *Topology {
	ret := &Topology{
		Vendor:        t.Vendor,
		PhysicalCores: t.PhysicalCores,
		Cores:         maps.Clone(t.Cores),
		Threads:       maps.Clone(t.Threads),
	}
	if t.Mapper != nil {
		ret.Mapper = t.Mapper.Clone()
	}
	return ret
}

// CoreCount returns the number of physical cores
func (t *Topology) CoreCount() int {
	return len(t.Cores)
}

// SortedCoreIDs returns all physical core IDs in ascending order
func (t *Topology) SortedCoreIDs() []int {
	return slices.Sorted(maps.Keys(t.Cores))
}

// SortedThreadIDs returns all logical thread IDs in ascending order
func (t *Topology) SortedThreadIDs() []int {
	return slices.Sorted(maps.Keys(t.Threads))
}

// CoreTypeCounts returns the number of physical cores of each type
func (t *Topology) CoreTypeCounts() map[CoreType]int {
	counts := map[CoreType]int{}
	for _, c := range t.Cores {
		counts[c.Type]++
	}
	return counts
}

// CoreTypes returns the core types present, performance first
func (t *Topology) CoreTypes() []CoreType {
	counts := t.CoreTypeCounts()
	var types []CoreType
	for _, ct := range []CoreType{CoreTypePerformance, CoreTypeEfficiency, CoreTypeUnknown} {
		if counts[ct] > 0 {
			types = append(types, ct)
		}
	}
	return types
}

// IsHybrid reports whether both performance and efficiency cores are present
func (t *Topology) IsHybrid() bool {
	counts := t.CoreTypeCounts()
	return counts[CoreTypePerformance] > 0 && counts[CoreTypeEfficiency] > 0
}

// CoresOfType returns the sorted IDs of the cores of type ct
func (t *Topology) CoresOfType(ct CoreType) []int {
	var ids []int
	for _, id := range t.SortedCoreIDs() {
		if t.Cores[id].Type == ct {
			ids = append(ids, id)
		}
	}
	return ids
}

// RepresentativeThread returns the lowest numbered thread of the lowest
// numbered core of type ct
func (t *Topology) RepresentativeThread(ct CoreType) (int, bool) {
	ids := t.CoresOfType(ct)
	if len(ids) == 0 {
		return 0, false
	}
	threads := t.Cores[ids[0]].Threads.List()
	if len(threads) == 0 {
		return 0, false
	}
	return threads[0], true
}

// CoreType returns the type of core id, CoreTypeUnknown if it does not exist
func (t *Topology) CoreType(id int) CoreType {
	return t.Cores[id].Type
}

func (t *Topology) String() string {
	counts := t.CoreTypeCounts()
	return fmt.Sprintf("%s: %d cores, %d threads (P=%d E=%d unknown=%d)",
		t.Vendor, t.CoreCount(), len(t.Threads),
		counts[CoreTypePerformance], counts[CoreTypeEfficiency], counts[CoreTypeUnknown])
}
