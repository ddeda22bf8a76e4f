// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"github.com/sustainable-computing-io/corewatt/internal/device"
)

// IntelMapper reads the package energy counter only; per-core power must be
// estimated
type IntelMapper struct {
	reader     device.RegisterReader
	discoverer *discoverer
	// set when the layout is used for a vendor that was not recognised
	unsupported bool
}

var _ Mapper = (*IntelMapper)(nil)

// Vendor reports VendorUnsupported when the Intel layout stands in for an
// unrecognised vendor
func (m *IntelMapper) Vendor() Vendor {
	if m.unsupported {
		return VendorUnsupported
	}
	return VendorIntel
}

// DiscoverLayout uses sysfs, falling back to assigning the first threads one
// per core and wrapping the rest around the cores in order
func (m *IntelMapper) DiscoverLayout() (*Layout, error) {
	return m.discoverer.discover(func(thread, total, physical int) (int, CoreType) {
		if physical <= 0 {
			physical = total
		}
		core := thread
		if thread >= physical {
			core = thread % physical
		}
		return core, m.discoverer.detector.Detect(thread)
	})
}

func (m *IntelMapper) ReadEnergySnapshot(t *Topology) (*device.EnergySnapshot, error) {
	pkg, err := readPackage(m.reader, device.MSRIntelPkgEnergyStatus, t)
	if err != nil {
		return nil, err
	}

	snapshot := device.NewEnergySnapshot()
	snapshot.Package = pkg
	snapshot.Estimated = true
	return snapshot, nil
}

func (m *IntelMapper) EnergyUnit() (uint64, error) {
	return readUnit(m.reader, device.MSRIntelPowerUnit)
}

// Clone shares the register reader, which is safe for concurrent use
func (m *IntelMapper) Clone() Mapper {
	return &IntelMapper{reader: m.reader, discoverer: m.discoverer, unsupported: m.unsupported}
}
