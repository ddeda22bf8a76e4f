// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"strings"

	"github.com/prometheus/procfs"
)

// Vendor identifies the CPU manufacturer
type Vendor int

const (
	VendorUnsupported Vendor = iota
	VendorIntel
	VendorAMD
)

func (v Vendor) String() string {
	switch v {
	case VendorIntel:
		return "intel"
	case VendorAMD:
		return "amd"
	default:
		return "unsupported"
	}
}

// ParseVendor maps a configured vendor name to a Vendor
func ParseVendor(s string) Vendor {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intel", "genuineintel":
		return VendorIntel
	case "amd", "authenticamd":
		return VendorAMD
	default:
		return VendorUnsupported
	}
}

// cpuInfoSource is the subset of procfs.FS used to identify the CPU; it
// allows mocking in tests
type cpuInfoSource interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

// DetectVendor reports the vendor named in the system's CPU identification.
// A read failure or an unrecognised vendor string yields VendorUnsupported.
func DetectVendor(src cpuInfoSource) Vendor {
	infos, err := src.CPUInfo()
	if err != nil {
		return VendorUnsupported
	}

	for _, info := range infos {
		switch {
		case strings.Contains(info.VendorID, "GenuineIntel"):
			return VendorIntel
		case strings.Contains(info.VendorID, "AuthenticAMD"):
			return VendorAMD
		}
	}
	return VendorUnsupported
}
