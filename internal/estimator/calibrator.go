// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package estimator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// ErrCalibrationIncomplete is returned when idle power could not be
// calibrated for every core type
var ErrCalibrationIncomplete = errors.New("calibration incomplete")

// Calibrator measures the idle power of each core type by loading one
// representative core at a time
type Calibrator struct {
	logger   *slog.Logger
	clock    clock.WithTicker
	topo     *topology.Topology
	workload Workload
	unit     uint64
	baseline time.Duration
	window   time.Duration
}

// CalibratorOpts are the timings used by the calibrator
type CalibratorOpts struct {
	// Baseline is the interval over which background package power is measured
	Baseline time.Duration
	// Window is the interval each core type is measured under load
	Window time.Duration
}

// DefaultCalibratorOpts returns the default calibration timings
func DefaultCalibratorOpts() CalibratorOpts {
	return CalibratorOpts{
		Baseline: 100 * time.Millisecond,
		Window:   time.Second,
	}
}

// NewCalibrator creates a calibrator for topo. unit is the energy unit exponent.
func NewCalibrator(topo *topology.Topology, workload Workload, unit uint64, opts CalibratorOpts, c clock.WithTicker, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{
		logger:   logger.With("service", "calibrator"),
		clock:    c,
		topo:     topo,
		workload: workload,
		unit:     unit,
		baseline: opts.Baseline,
		window:   opts.Window,
	}
}

// Calibrate stores per core type and per core idle power in state. On error
// state may hold the baselines of the types calibrated so far but no idle
// package power.
func (c *Calibrator) Calibrate(state *State) error {
	counts := c.topo.CoreTypeCounts()
	p := counts[topology.CoreTypePerformance]
	e := counts[topology.CoreTypeEfficiency]
	u := counts[topology.CoreTypeUnknown]
	c.logger.Info("Calibrating idle power", "p-cores", p, "e-cores", e, "unknown", u)

	baseline, err := c.baselinePower()
	if err != nil {
		return err
	}
	c.logger.Info("System baseline power", "watts", device.Power(baseline).Watts())

	var types []topology.CoreType
	if p > 0 {
		types = append(types, topology.CoreTypePerformance)
	}
	if e > 0 {
		types = append(types, topology.CoreTypeEfficiency)
	}
	if p == 0 && e == 0 && u > 0 {
		types = append(types, topology.CoreTypeUnknown)
	}

	for _, ct := range types {
		if err := c.calibrateType(state, ct, counts[ct], baseline); err != nil {
			return err
		}
	}

	var total uint64
	for id, core := range c.topo.Cores {
		v := state.typeBaseline(core.Type)
		if v == nil {
			continue
		}
		state.IdleCores[id] = *v
		total += *v
	}
	state.IdlePackage = ptr.To(total)

	c.logger.Info("Calibration complete",
		"idle-package-watts", device.Power(total).Watts(),
		"p-core-watts", device.Power(ptr.Deref(state.PerformanceIdle, 0)).Watts(),
		"e-core-watts", device.Power(ptr.Deref(state.EfficiencyIdle, 0)).Watts())
	return nil
}

func (c *Calibrator) baselinePower() (uint64, error) {
	start, err := c.topo.Mapper.ReadEnergySnapshot(c.topo)
	if err != nil {
		return 0, fmt.Errorf("%w: baseline: %v", ErrCalibrationIncomplete, err)
	}
	c.clock.Sleep(c.baseline)
	end, err := c.topo.Mapper.ReadEnergySnapshot(c.topo)
	if err != nil {
		return 0, fmt.Errorf("%w: baseline: %v", ErrCalibrationIncomplete, err)
	}
	return device.MicroWatts(start.Package, end.Package, c.baseline, c.unit), nil
}

func (c *Calibrator) calibrateType(state *State, ct topology.CoreType, count int, baseline uint64) error {
	thread, ok := c.topo.RepresentativeThread(ct)
	if !ok || count == 0 {
		return fmt.Errorf("%w: %s not found for calibration", ErrCalibrationIncomplete, ct)
	}
	c.logger.Info("Calibrating core type", "type", ct, "thread", thread)

	measured, err := c.workload.Measure(thread, c.window)
	if err != nil {
		return fmt.Errorf("%w: %s workload: %v", ErrCalibrationIncomplete, ct, err)
	}

	// the loaded measurement can come out below the baseline when
	// background activity drops; use the raw measurement then
	perCore := measured / uint64(count)
	if measured > baseline {
		perCore = (measured - baseline) / uint64(count)
	}
	state.setTypeBaseline(ct, perCore)

	c.logger.Info("Core type calibrated", "type", ct, "watts-per-core", device.Power(perCore).Watts())
	return nil
}
