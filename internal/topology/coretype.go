// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sustainable-computing-io/corewatt/internal/device"
)

// CoreType is the micro-architecture class of a core in a hybrid design
type CoreType int

const (
	CoreTypeUnknown CoreType = iota
	CoreTypePerformance
	CoreTypeEfficiency
)

func (t CoreType) String() string {
	switch t {
	case CoreTypePerformance:
		return "P-core"
	case CoreTypeEfficiency:
		return "E-core"
	default:
		return "Core"
	}
}

// CoreTypeDetector determines the core type of a logical CPU
type CoreTypeDetector struct {
	vendor    Vendor
	reader    device.RegisterReader
	sysfsPath string
	logger    *slog.Logger
}

// NewCoreTypeDetector creates a detector. sysfsPath is the sysfs mount point.
func NewCoreTypeDetector(vendor Vendor, reader device.RegisterReader, sysfsPath string, logger *slog.Logger) *CoreTypeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreTypeDetector{
		vendor:    vendor,
		reader:    reader,
		sysfsPath: sysfsPath,
		logger:    logger,
	}
}

// Detect returns the core type of thread. It never fails; anything that
// cannot be identified is CoreTypeUnknown.
func (d *CoreTypeDetector) Detect(thread int) CoreType {
	if d.vendor != VendorIntel {
		return CoreTypeUnknown
	}

	v, err := d.reader.Read(device.MSRIntelCoreType, thread)
	if err == nil {
		if v&(1<<device.CoreTypeBit) != 0 {
			return CoreTypeEfficiency
		}
		return CoreTypePerformance
	}
	d.logger.Debug("Hybrid capability register unreadable, trying sysfs",
		"thread", thread, "error", err)

	return d.fromSysfs(thread)
}

func (d *CoreTypeDetector) fromSysfs(thread int) CoreType {
	path := filepath.Join(d.sysfsPath, "devices", "system", "cpu",
		fmt.Sprintf("cpu%d", thread), "topology", "core_type")

	data, err := os.ReadFile(path)
	if err != nil {
		return CoreTypeUnknown
	}

	switch s := strings.ToLower(strings.TrimSpace(string(data))); {
	case strings.Contains(s, "performance"), strings.Contains(s, "p-core"):
		return CoreTypePerformance
	case strings.Contains(s, "efficiency"), strings.Contains(s, "e-core"):
		return CoreTypeEfficiency
	}
	return CoreTypeUnknown
}
