// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "time"

// EnergySnapshot is a point-in-time reading of the raw energy counters.
type EnergySnapshot struct {
	// Package is the raw package energy counter
	Package uint64

	// Cores maps physical core ID to its raw energy counter. Only populated
	// when the hardware exposes per-core counters.
	Cores map[int]uint64

	// Estimated is true when per-core values cannot be measured and must be
	// estimated from the package reading
	Estimated bool
}

// NewEnergySnapshot returns an empty snapshot
func NewEnergySnapshot() *EnergySnapshot {
	return &EnergySnapshot{Cores: map[int]uint64{}}
}

// CorePowers converts the per-core counters of two snapshots taken interval
// apart into microwatts. Only cores present in both snapshots are included.
func CorePowers(initial, final *EnergySnapshot, interval time.Duration, unit uint64) map[int]uint64 {
	powers := make(map[int]uint64, len(initial.Cores))
	for id, start := range initial.Cores {
		end, ok := final.Cores[id]
		if !ok {
			continue
		}
		powers[id] = MicroWatts(start, end, interval, unit)
	}
	return powers
}
