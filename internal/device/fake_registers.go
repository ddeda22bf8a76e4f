// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"k8s.io/utils/cpuset"
)

// NOTE: FakeRegisters is not intended to be used in production and is for
// development and testing only

const (
	// fakeUnitRegister encodes an energy unit of 14 (~61µJ per LSB)
	fakeUnitRegister = 0x000A0E03

	fakeCounterSpan = 1 << 32
)

type registerKey struct {
	register uint32
	cpu      int
}

// FakeRegisters implements RegisterReader with synthetic register values.
// Energy counters advance on every read and wrap at 32 bits.
type FakeRegisters struct {
	logger *slog.Logger

	mu            sync.Mutex
	cpus          int
	efficiency    cpuset.CPUSet
	pkgIncrement  uint64
	coreIncrement uint64
	randomFactor  float64
	counters      map[registerKey]uint64
	fixed         map[registerKey]uint64
	failures      map[registerKey]error
}

var _ RegisterReader = (*FakeRegisters)(nil)

// FakeOptFn is a functional option for configuring FakeRegisters
type FakeOptFn func(*FakeRegisters)

// WithFakeCPUs sets the number of logical CPUs that have registers
func WithFakeCPUs(n int) FakeOptFn {
	return func(f *FakeRegisters) {
		f.cpus = n
	}
}

// WithFakeEfficiencyThreads marks the given logical CPUs as efficiency cores
func WithFakeEfficiencyThreads(threads ...int) FakeOptFn {
	return func(f *FakeRegisters) {
		f.efficiency = cpuset.New(threads...)
	}
}

// WithFakeIncrement sets the raw counts the package and per-core counters
// advance by on every read
func WithFakeIncrement(pkg, core uint64) FakeOptFn {
	return func(f *FakeRegisters) {
		f.pkgIncrement = pkg
		f.coreIncrement = core
	}
}

// WithFakeJitter sets the random fraction of the increment added on each read.
// Zero makes the counters deterministic.
func WithFakeJitter(factor float64) FakeOptFn {
	return func(f *FakeRegisters) {
		f.randomFactor = factor
	}
}

// WithFakeLogger sets the logger
func WithFakeLogger(l *slog.Logger) FakeOptFn {
	return func(f *FakeRegisters) {
		f.logger = l.With("service", "fake-registers")
	}
}

// NewFakeRegisters creates a fake register bank
func NewFakeRegisters(opts ...FakeOptFn) *FakeRegisters {
	f := &FakeRegisters{
		logger:        slog.Default().With("service", "fake-registers"),
		cpus:          8,
		efficiency:    cpuset.New(),
		pkgIncrement:  1600,
		coreIncrement: 400,
		randomFactor:  0.5,
		counters:      map[registerKey]uint64{},
		fixed:         map[registerKey]uint64{},
		failures:      map[registerKey]error{},
	}

	for _, opt := range opts {
		opt(f)
	}

	f.logger.Debug("Fake registers created",
		"cpus", f.cpus, "efficiency", f.efficiency.String())
	return f
}

// Set pins register on cpu to a fixed value
func (f *FakeRegisters) Set(register uint32, cpu int, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := registerKey{register, cpu}
	f.fixed[key] = value
	delete(f.failures, key)
}

// Fail makes reads of register on cpu return err wrapped in ErrRegisterUnavailable
func (f *FakeRegisters) Fail(register uint32, cpu int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[registerKey{register, cpu}] = err
}

func (f *FakeRegisters) Read(register uint32, cpu int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cpu < 0 || cpu >= f.cpus {
		return 0, fmt.Errorf("%w: no cpu %d", ErrRegisterUnavailable, cpu)
	}

	key := registerKey{register, cpu}
	if err, ok := f.failures[key]; ok {
		return 0, fmt.Errorf("%w: read 0x%x on cpu %d: %v", ErrRegisterUnavailable, register, cpu, err)
	}
	if v, ok := f.fixed[key]; ok {
		return v, nil
	}

	switch register {
	case MSRIntelPowerUnit, MSRAMDPowerUnit:
		return fakeUnitRegister, nil

	case MSRIntelCoreType:
		if f.efficiency.Contains(cpu) {
			return 1 << CoreTypeBit, nil
		}
		return 0, nil

	case MSRIntelPkgEnergyStatus, MSRAMDPkgEnergyStatus:
		// package counter is shared by every CPU of the package
		return f.advance(registerKey{register, 0}, f.pkgIncrement), nil

	case MSRAMDCoreEnergyStatus:
		return f.advance(key, f.coreIncrement), nil
	}

	return 0, fmt.Errorf("%w: unknown register 0x%x", ErrRegisterUnavailable, register)
}

func (f *FakeRegisters) advance(key registerKey, increment uint64) uint64 {
	jitter := uint64(rand.Float64() * float64(increment) * f.randomFactor)
	v := (f.counters[key] + increment + jitter) % fakeCounterSpan
	f.counters[key] = v
	return v
}
