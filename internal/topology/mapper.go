// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"

	"github.com/sustainable-computing-io/corewatt/internal/device"
)

// counterMask keeps the 32-bit energy counter field of a status register
const counterMask = 0xFFFFFFFF

// Mapper hides the vendor specific parts of topology discovery and energy
// counter access
type Mapper interface {
	// DiscoverLayout maps logical threads to physical cores
	DiscoverLayout() (*Layout, error)

	// Vendor returns the vendor the mapper reads counters for
	Vendor() Vendor

	// ReadEnergySnapshot reads the raw energy counters
	ReadEnergySnapshot(t *Topology) (*device.EnergySnapshot, error)

	// EnergyUnit returns the energy unit exponent of the counters
	EnergyUnit() (uint64, error)

	// Clone returns a mapper that can be used independently of this one
	Clone() Mapper
}

// NewMapper returns the mapper for vendor. An unsupported vendor falls back
// to the Intel mapper with unknown core types.
func NewMapper(vendor Vendor, reader device.RegisterReader, applyOpts ...OptionFn) (Mapper, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	d, err := newDiscoverer(vendor, reader, opts)
	if err != nil {
		return nil, err
	}

	switch vendor {
	case VendorAMD:
		return &AMDMapper{reader: reader, discoverer: d}, nil
	case VendorIntel:
		return &IntelMapper{reader: reader, discoverer: d}, nil
	default:
		opts.logger.Warn("Unsupported CPU vendor, using Intel register layout",
			"vendor", vendor)
		return &IntelMapper{reader: reader, discoverer: d, unsupported: true}, nil
	}
}

// discoverer implements the discovery steps shared by all mappers
type discoverer struct {
	logger   *slog.Logger
	sysfs    sysfs.FS
	procfs   cpuInfoSource
	detector *CoreTypeDetector
	counts   *fixedCounts
}

func newDiscoverer(vendor Vendor, reader device.RegisterReader, opts Opts) (*discoverer, error) {
	sfs, err := sysfs.NewFS(opts.sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs at %s: %w", opts.sysfsPath, err)
	}
	pfs, err := procfs.NewFS(opts.procfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", opts.procfsPath, err)
	}

	logger := opts.logger.With("service", "topology")
	return &discoverer{
		logger:   logger,
		sysfs:    sfs,
		procfs:   pfs,
		detector: NewCoreTypeDetector(vendor, reader, opts.sysfsPath, logger),
		counts:   opts.counts,
	}, nil
}

// assignFn maps a thread to its core and type given the machine's counts
type assignFn func(thread, total, physical int) (core int, t CoreType)

func (d *discoverer) discover(assign assignFn) (*Layout, error) {
	if d.counts != nil {
		return d.fromCounts(assign, d.counts.total, d.counts.physical)
	}

	layout, err := d.fromSysfs()
	if err == nil {
		return layout, nil
	}
	d.logger.Info("Falling back to arithmetic topology", "reason", err)

	total, physical := d.cpuCounts()
	return d.fromCounts(assign, total, physical)
}

// fromSysfs reads core_id of every CPU listed under devices/system/cpu
func (d *discoverer) fromSysfs() (*Layout, error) {
	cpus, err := d.sysfs.CPUs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTopologyNotFound, err)
	}

	layout := newLayout()
	for _, cpu := range cpus {
		thread, err := strconv.Atoi(cpu.Number())
		if err != nil {
			continue
		}
		topo, err := cpu.Topology()
		if err != nil {
			d.logger.Debug("CPU topology unreadable", "cpu", thread, "error", err)
			continue
		}
		core, err := strconv.Atoi(topo.CoreID)
		if err != nil {
			d.logger.Debug("Invalid core_id", "cpu", thread, "core_id", topo.CoreID)
			continue
		}
		layout.add(thread, core, d.detector.Detect(thread))
	}

	if layout.empty() {
		return nil, ErrTopologyNotFound
	}
	return layout, nil
}

// cpuCounts returns the logical CPU count and the number of unique
// (physical id, core id) pairs from cpuinfo
func (d *discoverer) cpuCounts() (total, physical int) {
	infos, err := d.procfs.CPUInfo()
	if err != nil || len(infos) == 0 {
		d.logger.Debug("cpuinfo unavailable, using runtime CPU count", "error", err)
		return runtime.NumCPU(), 0
	}

	type coreKey struct{ pkg, core string }
	cores := map[coreKey]struct{}{}
	for _, info := range infos {
		if info.CoreID == "" {
			continue
		}
		cores[coreKey{info.PhysicalID, info.CoreID}] = struct{}{}
	}
	return len(infos), len(cores)
}

func (d *discoverer) fromCounts(assign assignFn, total, physical int) (*Layout, error) {
	layout := newLayout()
	for thread := range total {
		core, t := assign(thread, total, physical)
		layout.add(thread, core, t)
	}

	if layout.empty() {
		return nil, ErrTopologyUnavailable
	}
	d.logger.Debug("Arithmetic topology", "threads", total, "cores", layout.PhysicalCores)
	return layout, nil
}

// readPackage reads a package energy counter on the lowest numbered thread
func readPackage(reader device.RegisterReader, register uint32, t *Topology) (uint64, error) {
	threads := t.SortedThreadIDs()
	if len(threads) == 0 {
		return 0, errors.New("topology has no threads")
	}
	v, err := reader.Read(register, threads[0])
	if err != nil {
		return 0, fmt.Errorf("failed to read package energy: %w", err)
	}
	return v & counterMask, nil
}

func readUnit(reader device.RegisterReader, register uint32) (uint64, error) {
	v, err := reader.Read(register, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read energy unit: %w", err)
	}
	return device.EnergyUnit(v), nil
}
