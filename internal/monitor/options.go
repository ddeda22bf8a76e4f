// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/corewatt/internal/estimator"
)

// CalibrationOpts controls idle power calibration on CPUs without per-core counters
type CalibrationOpts struct {
	Enabled  bool
	Baseline time.Duration
	Settle   time.Duration
	Window   time.Duration
}

type Opts struct {
	logger          *slog.Logger
	clock           clock.WithTicker
	procfsPath      string
	interval        time.Duration
	displayInterval time.Duration
	pollInterval    time.Duration
	window          int
	concurrent      bool
	calibration     CalibrationOpts
	workload        estimator.Workload
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:          slog.Default(),
		clock:           clock.RealClock{},
		procfsPath:      "/proc",
		interval:        100 * time.Millisecond,
		displayInterval: 200 * time.Millisecond,
		pollInterval:    10 * time.Millisecond,
		window:          10,
		calibration: CalibrationOpts{
			Enabled:  true,
			Baseline: 100 * time.Millisecond,
			Settle:   200 * time.Millisecond,
			Window:   time.Second,
		},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the PowerMonitor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock the PowerMonitor
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithProcFSPath sets the procfs mount point used for utilization
func WithProcFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.procfsPath = path
	}
}

// WithInterval sets the time between the two energy snapshots of a tick
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithDisplayInterval sets the minimum time between two renders
func WithDisplayInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.displayInterval = d
	}
}

// WithPollInterval sets how often the concurrent renderer checks for new readings
func WithPollInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.pollInterval = d
	}
}

// WithWindow sets the number of samples averaged per reading
func WithWindow(n int) OptionFn {
	return func(o *Opts) {
		o.window = n
	}
}

// WithConcurrent runs sampling and rendering on separate goroutines
func WithConcurrent(enabled bool) OptionFn {
	return func(o *Opts) {
		o.concurrent = enabled
	}
}

// WithCalibration sets the calibration options
func WithCalibration(c CalibrationOpts) OptionFn {
	return func(o *Opts) {
		o.calibration = c
	}
}

// WithWorkload replaces the pinned calibration workload
func WithWorkload(w estimator.Workload) OptionFn {
	return func(o *Opts) {
		o.workload = w
	}
}
