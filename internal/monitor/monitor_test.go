// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sustainable-computing-io/corewatt/internal/device"
	"github.com/sustainable-computing-io/corewatt/internal/topology"
)

// intelRegisters is a deterministic Intel part: 4 threads over 4 cores,
// package counter advancing 1600 counts (976560µW over 100ms) per read
func intelRegisters() *device.FakeRegisters {
	return device.NewFakeRegisters(
		device.WithFakeCPUs(4),
		device.WithFakeEfficiencyThreads(2, 3),
		device.WithFakeIncrement(1600, 0),
		device.WithFakeJitter(0),
	)
}

func newIntelMonitor(t *testing.T, regs *device.FakeRegisters, renderer Renderer, opts ...OptionFn) (*PowerMonitor, *testingclock.FakeClock) {
	t.Helper()
	topo := newTestTopology(t, topology.VendorIntel, regs, 4, 4)
	fakeClock := testingclock.NewFakeClock(time.Now())
	opts = append([]OptionFn{
		WithClock(fakeClock),
		WithProcFSPath(writeProcStat(t, 4)),
		WithCalibration(CalibrationOpts{Enabled: false}),
	}, opts...)
	return NewPowerMonitor(topo, renderer, opts...), fakeClock
}

func TestNewPowerMonitor(t *testing.T) {
	regs := intelRegisters()
	topo := newTestTopology(t, topology.VendorIntel, regs, 4, 4)

	pm := NewPowerMonitor(topo, &mockRenderer{})
	assert.Equal(t, "monitor", pm.Name())
	assert.Equal(t, 100*time.Millisecond, pm.interval)
	assert.Equal(t, 200*time.Millisecond, pm.displayInterval)
	assert.Equal(t, 10*time.Millisecond, pm.pollInterval)
	assert.Equal(t, 10, pm.windowSize)
	assert.False(t, pm.concurrent)
	assert.True(t, pm.calibrate)
	assert.Equal(t, time.Second, pm.calibration.Window)

	pm = NewPowerMonitor(topo, &mockRenderer{},
		WithLogger(slog.Default().With("test", "custom")),
		WithInterval(50*time.Millisecond),
		WithDisplayInterval(time.Second),
		WithPollInterval(time.Millisecond),
		WithWindow(3),
		WithConcurrent(true),
	)
	assert.Equal(t, 50*time.Millisecond, pm.interval)
	assert.Equal(t, time.Second, pm.displayInterval)
	assert.Equal(t, time.Millisecond, pm.pollInterval)
	assert.Equal(t, 3, pm.windowSize)
	assert.True(t, pm.concurrent)
}

func TestPowerMonitor_Init(t *testing.T) {
	t.Run("amd measures cores directly", func(t *testing.T) {
		regs := device.NewFakeRegisters(device.WithFakeCPUs(4))
		topo := newTestTopology(t, topology.VendorAMD, regs, 4, 2)
		pm := NewPowerMonitor(topo, &mockRenderer{}, WithClock(testingclock.NewFakeClock(time.Now())))

		require.NoError(t, pm.Init())
		assert.False(t, pm.estimated)
		assert.Nil(t, pm.estimator)
		assert.Len(t, pm.coreWindows, 2)
		assert.Equal(t, uint64(14), pm.unit)
	})

	t.Run("intel calibrates", func(t *testing.T) {
		workload := &mockWorkload{}
		workload.On("Measure", 0, 500*time.Millisecond).Return(uint64(976_560+2_000_000), nil).Once()
		workload.On("Measure", 2, 500*time.Millisecond).Return(uint64(976_560+1_000_000), nil).Once()

		pm, _ := newIntelMonitor(t, intelRegisters(), &mockRenderer{},
			WithWorkload(workload),
			WithCalibration(CalibrationOpts{
				Enabled:  true,
				Baseline: 100 * time.Millisecond,
				Window:   500 * time.Millisecond,
			}))

		require.NoError(t, pm.Init())
		workload.AssertExpectations(t)
		assert.True(t, pm.estimated)
		assert.NotNil(t, pm.estimator)

		state := pm.State()
		require.True(t, state.Calibrated())
		assert.Equal(t, uint64(1_000_000), *state.PerformanceIdle)
		assert.Equal(t, uint64(500_000), *state.EfficiencyIdle)
		assert.Equal(t, uint64(3_000_000), *state.IdlePackage)
	})

	t.Run("intel calibration failure is not fatal", func(t *testing.T) {
		workload := &mockWorkload{}
		workload.On("Measure", mock.Anything, mock.Anything).Return(uint64(0), errors.New("no affinity"))

		pm, _ := newIntelMonitor(t, intelRegisters(), &mockRenderer{},
			WithWorkload(workload),
			WithCalibration(CalibrationOpts{Enabled: true, Baseline: time.Millisecond, Window: time.Millisecond}))

		require.NoError(t, pm.Init())
		assert.False(t, pm.State().Calibrated())
	})

	t.Run("intel without calibration", func(t *testing.T) {
		workload := &mockWorkload{}
		pm, _ := newIntelMonitor(t, intelRegisters(), &mockRenderer{}, WithWorkload(workload))

		require.NoError(t, pm.Init())
		assert.False(t, pm.State().Calibrated())
		workload.AssertNotCalled(t, "Measure", mock.Anything, mock.Anything)
	})

	t.Run("energy unit failure is fatal", func(t *testing.T) {
		regs := intelRegisters()
		regs.Fail(device.MSRIntelPowerUnit, 0, errors.New("eacces"))
		pm, _ := newIntelMonitor(t, regs, &mockRenderer{})

		err := pm.Init()
		assert.ErrorIs(t, err, device.ErrRegisterUnavailable)
	})

	t.Run("initial snapshot failure is fatal", func(t *testing.T) {
		regs := intelRegisters()
		regs.Fail(device.MSRIntelPkgEnergyStatus, 0, errors.New("eio"))
		pm, _ := newIntelMonitor(t, regs, &mockRenderer{})

		err := pm.Init()
		assert.ErrorIs(t, err, device.ErrRegisterUnavailable)
	})

	t.Run("intel needs procfs", func(t *testing.T) {
		pm, _ := newIntelMonitor(t, intelRegisters(), &mockRenderer{}, WithProcFSPath("/does/not/exist"))
		assert.Error(t, pm.Init())
	})
}

func TestPowerMonitor_TickAMD(t *testing.T) {
	regs := newSequenceRegisters()
	regs.script(device.MSRAMDPowerUnit, 0, 0)
	// Init consumes the first value of each counter
	regs.script(device.MSRAMDPkgEnergyStatus, 0, 0, 1_000, 1_500)
	regs.script(device.MSRAMDCoreEnergyStatus, 0, 0, 100, 150)
	regs.script(device.MSRAMDCoreEnergyStatus, 2, 0, 200, 260)

	topo := newTestTopology(t, topology.VendorAMD, regs, 4, 2)
	fakeClock := testingclock.NewFakeClock(time.Now())
	pm := NewPowerMonitor(topo, &mockRenderer{}, WithClock(fakeClock))
	require.NoError(t, pm.Init())

	start := fakeClock.Now()
	require.True(t, pm.tick())
	assert.Equal(t, 100*time.Millisecond, fakeClock.Since(start))

	assert.Equal(t, []uint64{50 * 1_000_000 * 1000 / 100}, pm.coreWindows[0].Values())
	assert.Equal(t, []uint64{60 * 1_000_000 * 1000 / 100}, pm.coreWindows[1].Values())
	assert.Equal(t, []uint64{500 * 1_000_000 * 1000 / 100}, pm.pkgWindow.Values())

	reading := pm.averages()
	assert.False(t, reading.Estimated)
	require.Len(t, reading.Cores, 2)
	assert.InDelta(t, 500.0, reading.Cores[0].Power.Watts(), 1e-9)
	assert.InDelta(t, 600.0, reading.Cores[1].Power.Watts(), 1e-9)
	assert.Equal(t, topology.CoreTypeUnknown, reading.Cores[1].Type)
	assert.InDelta(t, 5000.0, reading.Package.Watts(), 1e-9)
	assert.Equal(t, fakeClock.Now(), reading.Timestamp)
}

func TestPowerMonitor_TickIntel(t *testing.T) {
	pm, _ := newIntelMonitor(t, intelRegisters(), &mockRenderer{})
	require.NoError(t, pm.Init())

	// utilization never changes so every core gets an equal share of the
	// observed minimum
	for range 3 {
		require.True(t, pm.tick())
	}

	reading := pm.averages()
	assert.True(t, reading.Estimated)
	assert.InDelta(t, 976_560, reading.Package.MicroWatts(), 1e-6)
	for id, c := range reading.Cores {
		assert.InDelta(t, 244_140, c.Power.MicroWatts(), 1e-6, "core %d", id)
	}
	assert.Equal(t, topology.CoreTypePerformance, reading.Cores[0].Type)
	assert.Equal(t, topology.CoreTypeEfficiency, reading.Cores[3].Type)
	assert.InDelta(t, reading.Package.MicroWatts(), reading.CoresTotal().MicroWatts(), 1e-6)
}

func TestPowerMonitor_TickFailureIsSkipped(t *testing.T) {
	regs := intelRegisters()
	pm, _ := newIntelMonitor(t, regs, &mockRenderer{})
	require.NoError(t, pm.Init())

	regs.Fail(device.MSRIntelPkgEnergyStatus, 0, errors.New("eio"))
	assert.False(t, pm.tick())
	assert.Equal(t, 0, pm.pkgWindow.Len())

	regs.Set(device.MSRIntelPkgEnergyStatus, 0, 42)
	assert.True(t, pm.tick())
	assert.Equal(t, []uint64{0}, pm.pkgWindow.Values())
}

func TestPowerMonitor_RunSequential(t *testing.T) {
	renderer := &mockRenderer{}
	pm, fakeClock := newIntelMonitor(t, intelRegisters(), renderer, WithWindow(10))
	require.NoError(t, pm.Init())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var times []time.Time
	renderer.On("Render", mock.Anything, pm.topo).Run(func(args mock.Arguments) {
		times = append(times, fakeClock.Now())
		if len(times) == 3 {
			cancel()
		}
	}).Return(nil)

	start := fakeClock.Now()
	require.NoError(t, pm.Run(ctx))

	require.Len(t, times, 3)
	for i, ts := range times {
		assert.Equal(t, time.Duration(i+1)*200*time.Millisecond, ts.Sub(start), "render %d", i)
	}
	// two ticks per display interval
	assert.Equal(t, 6, pm.pkgWindow.Len())
}

func TestPowerMonitor_RunRenderError(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything).Return(errors.New("broken pipe"))

	pm, _ := newIntelMonitor(t, intelRegisters(), renderer)
	require.NoError(t, pm.Init())

	err := pm.Run(context.Background())
	assert.ErrorContains(t, err, "broken pipe")
	renderer.AssertNumberOfCalls(t, "Render", 1)
}

func TestPowerMonitor_Shutdown(t *testing.T) {
	renderer := &mockRenderer{}
	renderer.On("Render", mock.Anything, mock.Anything).Return(nil)

	pm, _ := newIntelMonitor(t, intelRegisters(), renderer)
	require.NoError(t, pm.Init())

	done := make(chan error, 1)
	go func() {
		done <- pm.Run(context.Background())
	}()

	require.NoError(t, pm.Shutdown())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after shutdown")
	}
}
