// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// hybridCores returns two SMT P-cores (0, 1) and two E-cores (2, 3)
func hybridCores() map[int]topology.Core {
	return map[int]topology.Core{
		0: {Threads: cpuset.New(0, 1), Type: topology.CoreTypePerformance},
		1: {Threads: cpuset.New(2, 3), Type: topology.CoreTypePerformance},
		2: {Threads: cpuset.New(4), Type: topology.CoreTypeEfficiency},
		3: {Threads: cpuset.New(5), Type: topology.CoreTypeEfficiency},
	}
}

func TestState_ObservePackage(t *testing.T) {
	s := NewState()
	assert.Nil(t, s.MinPackage)
	assert.Equal(t, uint64(0), s.idlePackage())

	for _, v := range []uint64{500, 200, 900, 300} {
		s.ObservePackage(v)
	}
	assert.Equal(t, uint64(200), *s.MinPackage)
	assert.Equal(t, uint64(900), *s.MaxPackage)
	assert.Equal(t, uint64(200), s.idlePackage())
	assert.False(t, s.Calibrated())

	s.IdlePackage = ptr.To[uint64](150)
	assert.Equal(t, uint64(150), s.idlePackage())
	assert.True(t, s.Calibrated())
}

func TestDistribute_WeightedSplitWithoutCalibration(t *testing.T) {
	state := NewState()
	// an idle tick establishes a zero baseline
	state.ObservePackage(0)

	util := map[int]float64{0: 0.5, 1: 0.5, 2: 0.25, 3: 0.25}
	powers := Distribute(state, 5_000_000, util, hybridCores())

	require.Len(t, powers, 4)
	// weighted utils 1.5, 1.5, 0.25, 0.25 of 3.5
	assert.Equal(t, uint64(2_142_857), powers[0])
	assert.Equal(t, uint64(2_142_857), powers[1])
	assert.Equal(t, uint64(357_142), powers[2])
	assert.Equal(t, uint64(357_142), powers[3])

	// per unit of utilization a P-core receives 3x what an E-core does
	pPerUnit := float64(powers[0]) / util[0]
	ePerUnit := float64(powers[2]) / util[2]
	assert.InDelta(t, 3.0, pPerUnit/ePerUnit, 1e-5)
}

func TestDistribute_Conservation(t *testing.T) {
	tests := []struct {
		name  string
		pkg   uint64
		util  map[int]float64
		state func() *State
	}{{
		name: "calibrated",
		pkg:  30_000_000,
		util: map[int]float64{0: 0.9, 1: 0.1, 2: 0.7, 3: 0.33},
		state: func() *State {
			s := NewState()
			s.IdlePackage = ptr.To[uint64](4_000_000)
			s.PerformanceIdle = ptr.To[uint64](1_500_000)
			s.EfficiencyIdle = ptr.To[uint64](500_000)
			return s
		},
	}, {
		name:  "observed minimum",
		pkg:   12_345_678,
		util:  map[int]float64{0: 0.01, 1: 0, 2: 1, 3: 0.5},
		state: func() *State { s := NewState(); s.ObservePackage(2_000_000); return s },
	}, {
		name:  "single busy core",
		pkg:   7_777_777,
		util:  map[int]float64{0: 0, 1: 0, 2: 0, 3: 0.001},
		state: NewState,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.state()
			cores := hybridCores()

			powers := Distribute(state, tt.pkg, tt.util, cores)
			idle := state.idlePackage()

			var dynamicSum uint64
			for id, p := range powers {
				coreIdle := state.coreIdle(id, cores[id].Type, idle, len(cores))
				require.GreaterOrEqual(t, p, coreIdle)
				dynamicSum += p - coreIdle
			}
			dynamic := tt.pkg - idle
			// each share is truncated to a whole µW
			assert.InDelta(t, float64(dynamic), float64(dynamicSum), float64(len(cores)))
		})
	}
}

func TestDistribute_Idle(t *testing.T) {
	zero := map[int]float64{0: 0, 1: 0, 2: 0, 3: 0}

	t.Run("type baselines", func(t *testing.T) {
		state := NewState()
		state.IdlePackage = ptr.To[uint64](10_000_000)
		state.PerformanceIdle = ptr.To[uint64](1_000)
		state.EfficiencyIdle = ptr.To[uint64](500)

		cores := hybridCores()
		cores[4] = topology.Core{Threads: cpuset.New(6), Type: topology.CoreTypeUnknown}

		powers := Distribute(state, 20_000_000, zero, cores)
		assert.Equal(t, map[int]uint64{0: 1_000, 1: 1_000, 2: 500, 3: 500, 4: 1_000}, powers)
	})

	t.Run("per core idle", func(t *testing.T) {
		state := NewState()
		state.IdlePackage = ptr.To[uint64](3_000)
		state.IdleCores = map[int]uint64{0: 700, 1: 800}

		powers := Distribute(state, 9_000, zero, hybridCores())
		// cores 2 and 3 have no calibrated value and take an equal share
		assert.Equal(t, map[int]uint64{0: 700, 1: 800, 2: 750, 3: 750}, powers)
	})

	t.Run("no utilization at all", func(t *testing.T) {
		state := NewState()
		powers := Distribute(state, 4_000, nil, hybridCores())
		// the first observation becomes the minimum
		assert.Equal(t, map[int]uint64{0: 1_000, 1: 1_000, 2: 1_000, 3: 1_000}, powers)
	})
}

func TestDistribute_OnlyCoresWithUtilization(t *testing.T) {
	state := NewState()
	state.ObservePackage(0)

	util := map[int]float64{0: 1, 9: 1}
	powers := Distribute(state, 1_000_000, util, hybridCores())

	assert.Equal(t, map[int]uint64{0: 1_000_000}, powers)
}

func TestDistribute_PackageBelowIdle(t *testing.T) {
	state := NewState()
	state.IdlePackage = ptr.To[uint64](5_000)
	state.PerformanceIdle = ptr.To[uint64](1_000)
	state.EfficiencyIdle = ptr.To[uint64](1_000)

	powers := Distribute(state, 2_000, map[int]float64{0: 1, 1: 1, 2: 1, 3: 1}, hybridCores())
	for id, p := range powers {
		assert.Equal(t, uint64(1_000), p, "core %d", id)
	}
}
