// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// State holds what calibration and estimation learn about the package over
// time. All power values are in microwatts. A nil field has not been
// observed or calibrated.
type State struct {
	MinPackage *uint64
	MaxPackage *uint64

	// IdlePackage is the calibrated idle power of the whole package
	IdlePackage *uint64

	// IdleCores is the calibrated idle power of each physical core
	IdleCores map[int]uint64

	PerformanceIdle *uint64
	EfficiencyIdle  *uint64
}

// NewState returns an empty state
func NewState() *State {
	return &State{IdleCores: map[int]uint64{}}
}

// ObservePackage updates the running package power bounds
func (s *State) ObservePackage(pkg uint64) {
	if s.MinPackage == nil || pkg < *s.MinPackage {
		s.MinPackage = ptr.To(pkg)
	}
	if s.MaxPackage == nil || pkg > *s.MaxPackage {
		s.MaxPackage = ptr.To(pkg)
	}
}

// Calibrated reports whether an idle package power is known
func (s *State) Calibrated() bool {
	return s.IdlePackage != nil
}

// idlePackage is the calibrated idle power, else the lowest observed
// package power, else 0
func (s *State) idlePackage() uint64 {
	if s.IdlePackage != nil {
		return *s.IdlePackage
	}
	return ptr.Deref(s.MinPackage, 0)
}

// typeBaseline returns the idle power per core of type ct. Unknown cores use
// the performance core baseline.
func (s *State) typeBaseline(ct topology.CoreType) *uint64 {
	switch ct {
	case topology.CoreTypeEfficiency:
		return s.EfficiencyIdle
	default:
		return s.PerformanceIdle
	}
}

func (s *State) setTypeBaseline(ct topology.CoreType, v uint64) {
	switch ct {
	case topology.CoreTypePerformance:
		s.PerformanceIdle = ptr.To(v)
	case topology.CoreTypeEfficiency:
		s.EfficiencyIdle = ptr.To(v)
	default:
		s.PerformanceIdle = ptr.To(v)
		s.EfficiencyIdle = ptr.To(v)
	}
}

// coreIdle returns the idle power of core id: its type baseline, else its
// calibrated idle power, else an equal share of the package idle power
func (s *State) coreIdle(id int, ct topology.CoreType, idle uint64, cores int) uint64 {
	if v := s.typeBaseline(ct); v != nil {
		return *v
	}
	if v, ok := s.IdleCores[id]; ok {
		return v
	}
	if cores == 0 {
		return 0
	}
	return idle / uint64(cores)
}
