// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"maps"
	"time"

	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// CorePower is the averaged power of one physical core
type CorePower struct {
	Power device.Power
	Type  topology.CoreType
}

// PowerReading is the averaged package and per-core power handed to renderers
type PowerReading struct {
	Package device.Power
	Cores   map[int]CorePower

	// Estimated is true when per-core values are estimated from package power
	Estimated bool
	Timestamp time.Time
}

// CoresTotal returns the sum of all core powers
func (r *PowerReading) CoresTotal() device.Power {
	var total device.Power
	for _, c := range r.Cores {
		total += c.Power
	}
	return total
}

// TypeTotal returns the sum of the powers of cores of type ct
func (r *PowerReading) TypeTotal(ct topology.CoreType) device.Power {
	var total device.Power
	for _, c := range r.Cores {
		if c.Type == ct {
			total += c.Power
		}
	}
	return total
}

func (r *PowerReading) Clone() *PowerReading {
	ret := *r
	ret.Cores = maps.Clone(r.Cores)
	return &ret
}
