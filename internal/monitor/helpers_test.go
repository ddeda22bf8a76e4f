// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// newTestTopology lays out total threads over physical cores using reader
func newTestTopology(t *testing.T, vendor topology.Vendor, reader device.RegisterReader, total, physical int) *topology.Topology {
	t.Helper()
	mapper, err := topology.NewMapper(vendor, reader,
		topology.WithSysFSPath(t.TempDir()),
		topology.WithProcFSPath(t.TempDir()),
		topology.WithFixedCounts(total, physical),
	)
	require.NoError(t, err)
	topo, err := topology.Discover(mapper)
	require.NoError(t, err)
	return topo
}

// writeProcStat creates a procfs directory with a static /proc/stat
func writeProcStat(t *testing.T, cpus int) string {
	t.Helper()
	dir := t.TempDir()
	content := "cpu  0 0 0 0 0 0 0 0 0 0\n"
	for i := range cpus {
		content += fmt.Sprintf("cpu%d 100 0 50 800 0 0 0 0 0 0\n", i)
	}
	content += "intr 0\nctxt 0\nbtime 1700000000\nprocesses 1\nprocs_running 1\nprocs_blocked 0\n" +
		"softirq 0 0 0 0 0 0 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(content), 0o644))
	return dir
}

// sequenceRegisters returns successive scripted values for each register
// and cpu, repeating the last one when exhausted
type sequenceRegisters struct {
	mu     sync.Mutex
	values map[[2]uint64][]uint64
	reads  map[[2]uint64]int
}

var _ device.RegisterReader = (*sequenceRegisters)(nil)

func newSequenceRegisters() *sequenceRegisters {
	return &sequenceRegisters{
		values: map[[2]uint64][]uint64{},
		reads:  map[[2]uint64]int{},
	}
}

func (s *sequenceRegisters) script(register uint32, cpu int, values ...uint64) {
	s.values[[2]uint64{uint64(register), uint64(cpu)}] = values
}

func (s *sequenceRegisters) Read(register uint32, cpu int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]uint64{uint64(register), uint64(cpu)}
	values, ok := s.values[key]
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("%w: 0x%x on cpu %d not scripted", device.ErrRegisterUnavailable, register, cpu)
	}
	i := min(s.reads[key], len(values)-1)
	s.reads[key]++
	return values[i], nil
}

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(reading *PowerReading, topo *topology.Topology) error {
	return m.Called(reading, topo).Error(0)
}

type mockWorkload struct {
	mock.Mock
}

func (m *mockWorkload) Measure(thread int, window time.Duration) (uint64, error) {
	args := m.Called(thread, window)
	return args.Get(0).(uint64), args.Error(1)
}
