// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package utilization tracks the busy fraction of each logical CPU from the
// cumulative time counters in /proc/stat.
package utilization

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/procfs"

	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// statReader is the subset of procfs.FS used by the tracker; it allows
// mocking in tests
type statReader interface {
	Stat() (procfs.Stat, error)
}

// Tracker computes per-CPU utilization between successive refreshes.
// It is not safe for concurrent use.
type Tracker struct {
	logger *slog.Logger
	stat   statReader

	prev map[int64]procfs.CPUStat
	util map[int]float64
}

// NewTracker creates a tracker reading the procfs mounted at procfsPath
func NewTracker(procfsPath string, logger *slog.Logger) (*Tracker, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procfsPath, err)
	}
	return newTracker(fs, logger), nil
}

func newTracker(stat statReader, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger: logger.With("service", "utilization"),
		stat:   stat,
		prev:   map[int64]procfs.CPUStat{},
		util:   map[int]float64{},
	}
}

// total returns the sum of all time buckets
func total(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

// sub is a saturating subtraction
func sub(a, b float64) float64 {
	return max(a-b, 0)
}

// Refresh reads the current counters and updates the utilization of every
// CPU. A CPU seen for the first time has utilization 0; a CPU whose counters
// did not advance keeps its previous value.
func (t *Tracker) Refresh() error {
	stat, err := t.stat.Stat()
	if err != nil {
		return fmt.Errorf("failed to read cpu stats: %w", err)
	}

	for id, curr := range stat.CPU {
		prev, ok := t.prev[id]
		if !ok {
			t.util[int(id)] = 0
			continue
		}

		totalDiff := sub(total(curr), total(prev))
		if totalDiff <= 0 {
			continue
		}
		idleDiff := sub(curr.Idle, prev.Idle) + sub(curr.Iowait, prev.Iowait)
		t.util[int(id)] = min(max(1-idleDiff/totalDiff, 0), 1)
	}

	t.prev = stat.CPU
	return nil
}

// CoreUtilization averages thread utilization per physical core. Cores with
// no tracked thread are absent from the result.
func (t *Tracker) CoreUtilization(topo *topology.Topology) map[int]float64 {
	type acc struct {
		sum   float64
		count int
	}
	cores := map[int]acc{}
	for thread, u := range t.util {
		th, ok := topo.Threads[thread]
		if !ok {
			continue
		}
		a := cores[th.Core]
		a.sum += u
		a.count++
		cores[th.Core] = a
	}

	ret := make(map[int]float64, len(cores))
	for id, a := range cores {
		ret[id] = a.sum / float64(a.count)
	}
	return ret
}
