// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"

	"github.com/sustainable-computing-io/corewatt/internal/device"
)

// Window is a bounded FIFO of raw power samples in µW
type Window struct {
	capacity int
	samples  []uint64
}

// NewWindow creates a window holding at most capacity samples
func NewWindow(capacity int) *Window {
	capacity = max(capacity, 1)
	return &Window{
		capacity: capacity,
		samples:  make([]uint64, 0, capacity),
	}
}

// Push appends v, evicting the oldest sample when full
func (w *Window) Push(v uint64) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, v)
}

func (w *Window) Len() int {
	return len(w.samples)
}

// Values returns the samples oldest first
func (w *Window) Values() []uint64 {
	return slices.Clone(w.samples)
}

// Average returns the mean of the samples, 0 for an empty window
func (w *Window) Average() device.Power {
	if len(w.samples) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range w.samples {
		sum += v
	}
	return device.Power(float64(sum) / float64(len(w.samples)))
}
