// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/corewatt/internal/device"
)

func writeCoreTypeFile(t *testing.T, sysfsDir string, cpu int, content string) {
	t.Helper()
	dir := filepath.Join(sysfsDir, "devices", "system", "cpu", fmt.Sprintf("cpu%d", cpu), "topology")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core_type"), []byte(content), 0o644))
}

func TestCoreTypeDetector_Register(t *testing.T) {
	regs := device.NewFakeRegisters(device.WithFakeCPUs(4), device.WithFakeEfficiencyThreads(2, 3))
	d := NewCoreTypeDetector(VendorIntel, regs, t.TempDir(), nil)

	assert.Equal(t, CoreTypePerformance, d.Detect(0))
	assert.Equal(t, CoreTypePerformance, d.Detect(1))
	assert.Equal(t, CoreTypeEfficiency, d.Detect(2))
	assert.Equal(t, CoreTypeEfficiency, d.Detect(3))
}

func TestCoreTypeDetector_NonIntel(t *testing.T) {
	regs := device.NewFakeRegisters(device.WithFakeCPUs(2), device.WithFakeEfficiencyThreads(1))

	for _, v := range []Vendor{VendorAMD, VendorUnsupported} {
		d := NewCoreTypeDetector(v, regs, t.TempDir(), nil)
		assert.Equal(t, CoreTypeUnknown, d.Detect(0), v.String())
		assert.Equal(t, CoreTypeUnknown, d.Detect(1), v.String())
	}
}

func TestCoreTypeDetector_SysfsFallback(t *testing.T) {
	sysfsDir := t.TempDir()
	writeCoreTypeFile(t, sysfsDir, 0, "Performance\n")
	writeCoreTypeFile(t, sysfsDir, 1, "E-core")
	writeCoreTypeFile(t, sysfsDir, 2, "intel_atom")

	regs := device.NewFakeRegisters(device.WithFakeCPUs(4))
	for cpu := range 4 {
		regs.Fail(device.MSRIntelCoreType, cpu, errors.New("no such device"))
	}
	d := NewCoreTypeDetector(VendorIntel, regs, sysfsDir, nil)

	tests := []struct {
		cpu      int
		expected CoreType
	}{
		{0, CoreTypePerformance},
		{1, CoreTypeEfficiency},
		{2, CoreTypeUnknown}, // unrecognised text
		{3, CoreTypeUnknown}, // missing attribute
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("cpu%d", tt.cpu), func(t *testing.T) {
			assert.Equal(t, tt.expected, d.Detect(tt.cpu))
		})
	}
}

func TestCoreType_String(t *testing.T) {
	assert.Equal(t, "P-core", CoreTypePerformance.String())
	assert.Equal(t, "E-core", CoreTypeEfficiency.String())
	assert.Equal(t, "Core", CoreTypeUnknown.String())
}
