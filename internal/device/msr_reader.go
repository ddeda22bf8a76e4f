// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// DefaultMSRDevicePath is the per-CPU MSR device path template
const DefaultMSRDevicePath = "/dev/cpu/%d/msr"

// ErrRegisterUnavailable is returned when a register cannot be read, either
// because the device file cannot be opened or the read fails.
var ErrRegisterUnavailable = errors.New("register unavailable")

// msrReader implements RegisterReader over the Linux MSR device files
type msrReader struct {
	devicePath string // MSR device path template
	logger     *slog.Logger

	mu    sync.Mutex
	files map[int]*os.File // CPU ID -> MSR file handle
}

var _ RegisterReader = (*msrReader)(nil)

// NewMSRReader creates a new MSR reader using the specified device path template.
// Device files are opened lazily on first read of each CPU.
func NewMSRReader(devicePath string, logger *slog.Logger) *msrReader {
	if logger == nil {
		logger = slog.Default()
	}
	if devicePath == "" {
		devicePath = DefaultMSRDevicePath
	}

	return &msrReader{
		files:      make(map[int]*os.File),
		devicePath: devicePath,
		logger:     logger.With("service", "msr-reader"),
	}
}

// Name returns the name of this register reader implementation
func (m *msrReader) Name() string {
	return "msr"
}

// Read returns the 8-byte little-endian value at offset register of the CPU's MSR device
func (m *msrReader) Read(register uint32, cpu int) (uint64, error) {
	file, err := m.open(cpu)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, 8)
	n, err := file.ReadAt(buf, int64(register))
	if err != nil {
		return 0, fmt.Errorf("%w: read 0x%x on cpu %d: %v", ErrRegisterUnavailable, register, cpu, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("%w: short read of 0x%x on cpu %d: %d bytes", ErrRegisterUnavailable, register, cpu, n)
	}

	return binary.LittleEndian.Uint64(buf), nil
}

func (m *msrReader) open(cpu int) (*os.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[cpu]; ok {
		return f, nil
	}

	path := fmt.Sprintf(m.devicePath, cpu)
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrRegisterUnavailable, path, err)
	}

	m.logger.Debug("Opened MSR device", "cpu", cpu, "path", path)
	m.files[cpu] = f
	return f, nil
}

// Close closes all MSR files and releases resources
func (m *msrReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for cpu, file := range m.files {
		if err := file.Close(); err != nil {
			errs = append(errs, err)
			m.logger.Warn("Failed to close MSR file", "cpu", cpu, "error", err)
		}
	}

	m.files = make(map[int]*os.File)
	return errors.Join(errs...)
}
