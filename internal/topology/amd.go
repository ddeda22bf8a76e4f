// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"github.com/sustainable-computing-io/corewatt/internal/device"
)

// AMDMapper reads both the package counter and a counter per physical core
type AMDMapper struct {
	reader     device.RegisterReader
	discoverer *discoverer
}

var _ Mapper = (*AMDMapper)(nil)

func (m *AMDMapper) Vendor() Vendor {
	return VendorAMD
}

// DiscoverLayout uses sysfs, falling back to consecutive threads sharing a
// core. AMD exposes no core type so every core is unknown.
func (m *AMDMapper) DiscoverLayout() (*Layout, error) {
	return m.discoverer.discover(func(thread, total, physical int) (int, CoreType) {
		threadsPerCore := 1
		if physical > 0 {
			threadsPerCore = max(total/physical, 1)
		}
		return thread / threadsPerCore, CoreTypeUnknown
	})
}

// ReadEnergySnapshot reads each core's counter on the core's lowest numbered
// thread. Cores whose counter cannot be read are left out of the snapshot.
func (m *AMDMapper) ReadEnergySnapshot(t *Topology) (*device.EnergySnapshot, error) {
	pkg, err := readPackage(m.reader, device.MSRAMDPkgEnergyStatus, t)
	if err != nil {
		return nil, err
	}

	snapshot := device.NewEnergySnapshot()
	snapshot.Package = pkg

	for _, id := range t.SortedCoreIDs() {
		threads := t.Cores[id].Threads.List()
		if len(threads) == 0 {
			continue
		}
		v, err := m.reader.Read(device.MSRAMDCoreEnergyStatus, threads[0])
		if err != nil {
			m.discoverer.logger.Debug("Core energy unreadable", "core", id, "error", err)
			continue
		}
		snapshot.Cores[id] = v & counterMask
	}
	return snapshot, nil
}

func (m *AMDMapper) EnergyUnit() (uint64, error) {
	return readUnit(m.reader, device.MSRAMDPowerUnit)
}

// Clone shares the register reader, which is safe for concurrent use
func (m *AMDMapper) Clone() Mapper {
	return &AMDMapper{reader: m.reader, discoverer: m.discoverer}
}
