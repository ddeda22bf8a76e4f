// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// runConcurrent samples on one goroutine and renders on another. The two
// share only the slot; the renderer works on its own topology clone.
func (pm *PowerMonitor) runConcurrent(ctx context.Context) error {
	readings := newSlot()
	rendererDone := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer readings.close()
		pm.sample(ctx, readings, rendererDone)
		return nil
	})
	g.Go(func() error {
		defer close(rendererDone)
		return pm.render(ctx, readings)
	})

	return g.Wait()
}

// sample runs ticks and offers the averages after each one until the
// context is cancelled or the renderer has stopped
func (pm *PowerMonitor) sample(ctx context.Context, readings *slot, rendererDone <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rendererDone:
			pm.logger.Debug("Renderer stopped, stopping sampler")
			return
		default:
		}

		if !pm.tick() {
			continue
		}
		readings.offer(pm.averages())
	}
}

// render polls the slot and draws the latest reading at most once per
// display interval
func (pm *PowerMonitor) render(ctx context.Context, readings *slot) error {
	topo := pm.topo.Clone()
	ticker := pm.clock.NewTicker(pm.pollInterval)
	defer ticker.Stop()

	lastDisplay := pm.clock.Now()
	var pending *PowerReading
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		r, open := readings.poll()
		if !open {
			pm.logger.Debug("Sampler stopped, stopping renderer")
			return nil
		}
		if r != nil {
			pending = r
		}

		if pending == nil || pm.clock.Since(lastDisplay) < pm.displayInterval {
			continue
		}
		if err := pm.renderer.Render(pending, topo); err != nil {
			return fmt.Errorf("failed to render power reading: %w", err)
		}
		pending = nil
		lastDisplay = pm.clock.Now()
	}
}
