// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"time"
)

// Energy represents energy usage as an uint64 MicroJoule count.
// Use functions Joules, MilliJoules and MicroJoules to get the energy
// value as Joule, MilliJoule or MicroJoule respectively
type Energy uint64

const (
	MicroJoule Energy = 1
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule
)

func (e Energy) MicroJoules() uint64 {
	return uint64(e)
}

func (e Energy) MilliJoules() float64 {
	return float64(e) / float64(MilliJoule)
}

func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// Power represents power usage as an float64 MicroWatts.
// Use functions Watts, MilliWatts and MicroWatts to get the power value as
// Watts, MilliWatts or MicroWatts respectively
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) MicroWatts() float64 {
	return float64(p)
}

func (p Power) MilliWatts() float64 {
	return float64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p / Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}

// counterWrap is the span added to a delta when a 32-bit energy counter
// has wrapped between two reads.
const counterWrap = 0xFFFFFFFF

// microScale converts a counter delta, before the unit shift, to microjoules.
const microScale = 1_000_000

// CounterDelta returns end - start for a RAPL energy counter, treating
// end < start as a single 32-bit wraparound.
func CounterDelta(start, end uint64) uint64 {
	if end < start {
		return end + counterWrap - start
	}
	return end - start
}

// MicroWatts converts two raw energy counter readings taken interval apart
// into microwatts. unit is the shift exponent read from the energy unit
// register: a counter LSB is 1/2^unit joules.
//
// The result is ((delta * 1e6) >> unit) * 1000 / interval_ms. Intervals
// shorter than a millisecond yield 0.
func MicroWatts(start, end uint64, interval time.Duration, unit uint64) uint64 {
	ms := uint64(interval.Milliseconds())
	if ms == 0 {
		return 0
	}

	energyUJ := (CounterDelta(start, end) * microScale) >> unit
	// µJ per ms is mW; scale to µW
	return energyUJ * 1000 / ms
}

// EnergyUnit extracts the energy unit exponent (bits 12:8) from a RAPL
// power unit register value.
func EnergyUnit(unitRegister uint64) uint64 {
	return (unitRegister >> 8) & 0x1F
}
