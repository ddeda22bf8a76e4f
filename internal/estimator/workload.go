// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// spinBatch is the number of loop iterations between checks of the stop flag
const spinBatch = 1_000_000

// spinSink keeps the spin loop from being optimised away
var spinSink atomic.Uint64

// Workload loads one logical CPU and measures package power while it runs
type Workload interface {
	// Measure returns the package power in µW over window while thread is busy
	Measure(thread int, window time.Duration) (uint64, error)
}

// PinnedWorkload runs a tight loop on a goroutine locked to an OS thread
// whose affinity is set to the target CPU
type PinnedWorkload struct {
	logger *slog.Logger
	clock  clock.WithTicker
	topo   *topology.Topology
	unit   uint64
	settle time.Duration
}

var _ Workload = (*PinnedWorkload)(nil)

// NewPinnedWorkload creates a workload reading energy through topo's mapper.
// unit is the energy unit exponent and settle the time the spinner is given
// to start before measuring.
func NewPinnedWorkload(topo *topology.Topology, unit uint64, settle time.Duration, c clock.WithTicker, logger *slog.Logger) *PinnedWorkload {
	if logger == nil {
		logger = slog.Default()
	}
	return &PinnedWorkload{
		logger: logger.With("service", "calibration-workload"),
		clock:  c,
		topo:   topo,
		unit:   unit,
		settle: settle,
	}
}

func (w *PinnedWorkload) Measure(thread int, window time.Duration) (uint64, error) {
	var (
		stop  atomic.Bool
		wg    sync.WaitGroup
		start = make(chan struct{})
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.spin(thread, start, &stop)
	}()
	defer func() {
		stop.Store(true)
		wg.Wait()
	}()

	w.clock.Sleep(w.settle)
	close(start)

	initial, err := w.topo.Mapper.ReadEnergySnapshot(w.topo)
	if err != nil {
		return 0, fmt.Errorf("failed to read initial snapshot: %w", err)
	}
	w.clock.Sleep(window)
	final, err := w.topo.Mapper.ReadEnergySnapshot(w.topo)
	if err != nil {
		return 0, fmt.Errorf("failed to read final snapshot: %w", err)
	}

	return device.MicroWatts(initial.Package, final.Package, window, w.unit), nil
}

func (w *PinnedWorkload) spin(thread int, start <-chan struct{}, stop *atomic.Bool) {
	// never unlocked: the runtime terminates a thread whose goroutine exits
	// while locked, so the narrowed affinity mask dies with it
	runtime.LockOSThread()

	if err := pinToCPU(thread); err != nil {
		w.logger.Warn("Failed to set thread affinity", "thread", thread, "error", err)
	}

	select {
	case <-start:
	case <-w.clock.After(w.settle):
	}

	var acc uint64
	for !stop.Load() {
		for i := range uint64(spinBatch) {
			acc += i
		}
	}
	spinSink.Store(acc)
}
