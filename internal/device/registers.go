// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

// Intel RAPL and hybrid architecture MSRs
const (
	// IA32_RAPL_POWER_UNIT - Power unit register containing scaling factors
	MSRIntelPowerUnit = 0x606

	// Package energy counter (32-bit, wraparound at ~4 billion)
	MSRIntelPkgEnergyStatus = 0x611

	// IA32_HYBRID_CAPABILITY; bit 24 is set on efficiency cores
	MSRIntelCoreType = 0x19A
)

// AMD RAPL MSRs
const (
	MSRAMDPowerUnit        = 0xC0010299
	MSRAMDCoreEnergyStatus = 0xC001029A
	MSRAMDPkgEnergyStatus  = 0xC001029B
)

// CoreTypeBit is the bit of MSRIntelCoreType distinguishing efficiency cores
// (1) from performance cores (0).
const CoreTypeBit = 24

// RegisterReader reads per-CPU model specific registers.
type RegisterReader interface {
	// Read returns the current 64-bit value of register on the given logical CPU.
	// Values are never cached.
	Read(register uint32, cpu int) (uint64, error)
}
