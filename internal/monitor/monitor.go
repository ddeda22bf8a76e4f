// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/estimator"
	"github.com/sustainable-computing-io/corewatt/internal/service"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
	"github.com/sustainable-computing-io/corewatt/internal/utilization"
)

// Renderer displays power readings
type Renderer interface {
	// Render draws reading. topo is owned by the caller's goroutine.
	Render(reading *PowerReading, topo *topology.Topology) error
}

// Service defines the interface for the power monitoring service
type Service interface {
	service.Initializer
	service.Runner
	service.Shutdowner
}

// PowerMonitor samples the energy counters, averages power over a moving
// window and hands readings to a renderer
type PowerMonitor struct {
	// passed externally
	logger   *slog.Logger
	topo     *topology.Topology
	renderer Renderer

	clock           clock.WithTicker
	procfsPath      string
	interval        time.Duration
	displayInterval time.Duration
	pollInterval    time.Duration
	windowSize      int
	concurrent      bool
	calibration     estimator.CalibratorOpts
	calibrate       bool
	settle          time.Duration
	workload        estimator.Workload

	// set up by Init and owned by the sampling goroutine
	unit        uint64
	estimated   bool
	state       *estimator.State
	estimator   *estimator.Estimator
	pkgWindow   *Window
	coreWindows map[int]*Window
	lastDisplay time.Time

	// For managing the collection loop
	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var _ Service = (*PowerMonitor)(nil)

// NewPowerMonitor creates a new PowerMonitor instance
func NewPowerMonitor(topo *topology.Topology, renderer Renderer, applyOpts ...OptionFn) *PowerMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PowerMonitor{
		logger:          opts.logger.With("service", "monitor"),
		topo:            topo,
		renderer:        renderer,
		clock:           opts.clock,
		procfsPath:      opts.procfsPath,
		interval:        opts.interval,
		displayInterval: opts.displayInterval,
		pollInterval:    opts.pollInterval,
		windowSize:      opts.window,
		concurrent:      opts.concurrent,
		calibration: estimator.CalibratorOpts{
			Baseline: opts.calibration.Baseline,
			Window:   opts.calibration.Window,
		},
		calibrate:        opts.calibration.Enabled,
		settle:           opts.calibration.Settle,
		workload:         opts.workload,
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}
}

func (pm *PowerMonitor) Name() string {
	return "monitor"
}

// Init reads the energy unit and a first snapshot, both of which must
// succeed, and calibrates idle power when per-core power is estimated
func (pm *PowerMonitor) Init() error {
	unit, err := pm.topo.Mapper.EnergyUnit()
	if err != nil {
		return fmt.Errorf("failed to read energy unit: %w", err)
	}
	pm.unit = unit

	snapshot, err := pm.topo.Mapper.ReadEnergySnapshot(pm.topo)
	if err != nil {
		return fmt.Errorf("failed to read initial energy snapshot: %w", err)
	}
	pm.estimated = snapshot.Estimated

	pm.pkgWindow = NewWindow(pm.windowSize)
	pm.coreWindows = make(map[int]*Window, pm.topo.CoreCount())
	for _, id := range pm.topo.SortedCoreIDs() {
		pm.coreWindows[id] = NewWindow(pm.windowSize)
	}
	pm.state = estimator.NewState()

	if pm.estimated {
		if err := pm.initEstimator(); err != nil {
			return err
		}
	}

	pm.lastDisplay = pm.clock.Now()
	pm.logger.Info("Monitor initialized",
		"vendor", pm.topo.Vendor, "cores", pm.topo.CoreCount(),
		"energy-unit", pm.unit, "estimated", pm.estimated)
	return nil
}

func (pm *PowerMonitor) initEstimator() error {
	tracker, err := utilization.NewTracker(pm.procfsPath, pm.logger)
	if err != nil {
		return fmt.Errorf("failed to create utilization tracker: %w", err)
	}
	pm.estimator = estimator.NewEstimator(pm.topo, tracker, pm.logger)

	if !pm.calibrate {
		pm.logger.Info("Calibration disabled, using observed minimum package power as idle")
		return nil
	}

	workload := pm.workload
	if workload == nil {
		workload = estimator.NewPinnedWorkload(pm.topo, pm.unit, pm.settle, pm.clock, pm.logger)
	}
	c := estimator.NewCalibrator(pm.topo, workload, pm.unit, pm.calibration, pm.clock, pm.logger)
	if err := c.Calibrate(pm.state); err != nil {
		pm.logger.Warn("Calibration failed, using dynamic calibration instead", "error", err)
	}
	return nil
}

func (pm *PowerMonitor) Run(ctx context.Context) error {
	pm.logger.Info("Monitor is running...")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(pm.collectionCtx, cancel)
	defer stop()

	var err error
	if pm.concurrent {
		err = pm.runConcurrent(ctx)
	} else {
		err = pm.runSequential(ctx)
	}

	pm.logger.Info("Monitor has terminated.")
	return err
}

func (pm *PowerMonitor) Shutdown() error {
	pm.logger.Info("shutting down monitor")
	pm.collectionCancel()
	return nil
}

// runSequential samples and renders on the calling goroutine
func (pm *PowerMonitor) runSequential(ctx context.Context) error {
	for ctx.Err() == nil {
		if !pm.tick() {
			continue
		}
		if pm.clock.Since(pm.lastDisplay) < pm.displayInterval {
			continue
		}

		if err := pm.renderer.Render(pm.averages(), pm.topo); err != nil {
			return fmt.Errorf("failed to render power reading: %w", err)
		}
		pm.lastDisplay = pm.clock.Now()
	}
	return nil
}

// tick takes two snapshots interval apart and pushes the resulting power
// into the windows. It returns false when a snapshot could not be read.
func (pm *PowerMonitor) tick() bool {
	initial, err := pm.topo.Mapper.ReadEnergySnapshot(pm.topo)
	if err != nil {
		pm.logger.Warn("Skipping tick", "error", err)
		pm.clock.Sleep(pm.interval)
		return false
	}
	pm.clock.Sleep(pm.interval)
	final, err := pm.topo.Mapper.ReadEnergySnapshot(pm.topo)
	if err != nil {
		pm.logger.Warn("Skipping tick", "error", err)
		return false
	}

	pkg := device.MicroWatts(initial.Package, final.Package, pm.interval, pm.unit)

	var cores map[int]uint64
	if initial.Estimated {
		cores = pm.estimator.EstimateCorePowers(pm.state, pkg)
	} else {
		cores = device.CorePowers(initial, final, pm.interval, pm.unit)
	}

	pm.pkgWindow.Push(pkg)
	for id, p := range cores {
		w, ok := pm.coreWindows[id]
		if !ok {
			continue
		}
		w.Push(p)
	}

	pm.logger.Debug("Sampled power", "package-uw", pkg, "cores", len(cores))
	return true
}

// averages returns the window averages as a reading
func (pm *PowerMonitor) averages() *PowerReading {
	reading := &PowerReading{
		Package:   pm.pkgWindow.Average(),
		Cores:     make(map[int]CorePower, len(pm.coreWindows)),
		Estimated: pm.estimated,
		Timestamp: pm.clock.Now(),
	}
	for id, w := range pm.coreWindows {
		core, ok := pm.topo.Cores[id]
		if !ok {
			continue
		}
		reading.Cores[id] = CorePower{Power: w.Average(), Type: core.Type}
	}
	return reading
}

// State returns the calibration state. It must not be used while Run is active.
func (pm *PowerMonitor) State() *estimator.State {
	return pm.state
}
