// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// typeWeights scale a core's utilization by how much power its
// micro-architecture draws relative to an efficiency core
var typeWeights = map[topology.CoreType]float64{
	topology.CoreTypePerformance: 3.0,
	topology.CoreTypeUnknown:     2.0,
	topology.CoreTypeEfficiency:  1.0,
}

// Distribute splits package power pkg (µW) across cores. Each core gets its
// idle power plus a share of the dynamic power proportional to its type
// weighted utilization. When no core is busy every core gets its idle power
// only. pkg also updates the running bounds in state.
//
// Only cores with a utilization value receive a share when some core is
// busy.
func Distribute(state *State, pkg uint64, coreUtil map[int]float64, cores map[int]topology.Core) map[int]uint64 {
	state.ObservePackage(pkg)

	idle := state.idlePackage()
	var dynamic uint64
	if pkg > idle {
		dynamic = pkg - idle
	}

	weighted := make(map[int]float64, len(coreUtil))
	var total float64
	for id, util := range coreUtil {
		core, ok := cores[id]
		if !ok {
			continue
		}
		w := util * typeWeights[core.Type]
		weighted[id] = w
		total += w
	}

	powers := make(map[int]uint64, len(cores))
	if total > 0 {
		for id, w := range weighted {
			core := cores[id]
			share := uint64(float64(dynamic) * (w / total))
			powers[id] = state.coreIdle(id, core.Type, idle, len(cores)) + share
		}
		return powers
	}

	for id, core := range cores {
		powers[id] = state.coreIdle(id, core.Type, idle, len(cores))
	}
	return powers
}
