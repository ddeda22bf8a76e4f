// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package estimator attributes package power to individual cores on CPUs
// that only expose a package energy counter.
package estimator

import (
	"log/slog"

	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// utilizationSource provides per-core utilization
type utilizationSource interface {
	Refresh() error
	CoreUtilization(topo *topology.Topology) map[int]float64
}

// Estimator estimates per-core power from package power and utilization
type Estimator struct {
	logger  *slog.Logger
	topo    *topology.Topology
	tracker utilizationSource
}

// NewEstimator creates an estimator for topo
func NewEstimator(topo *topology.Topology, tracker utilizationSource, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		logger:  logger.With("service", "estimator"),
		topo:    topo,
		tracker: tracker,
	}
}

// EstimateCorePowers refreshes utilization and splits pkg (µW) across cores
func (e *Estimator) EstimateCorePowers(state *State, pkg uint64) map[int]uint64 {
	if err := e.tracker.Refresh(); err != nil {
		e.logger.Warn("Failed to refresh utilization, using previous values", "error", err)
	}
	return Distribute(state, pkg, e.tracker.CoreUtilization(e.topo), e.topo.Cores)
}
