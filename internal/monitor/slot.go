// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

// slot holds at most one pending reading. A new offer replaces a reading
// that has not been taken yet. Only one goroutine may offer and close.
type slot struct {
	ch chan *PowerReading
}

func newSlot() *slot {
	return &slot{ch: make(chan *PowerReading, 1)}
}

// offer stores a copy of r, dropping any unread reading. The copy keeps the
// receiver's reading independent of the sender.
func (s *slot) offer(r *PowerReading) {
	r = r.Clone()
	select {
	case s.ch <- r:
		return
	default:
	}

	// full: drop the stale reading; the receiver may have taken it already
	select {
	case <-s.ch:
	default:
	}
	s.ch <- r
}

// poll returns the pending reading, if any, without blocking. open is false
// once the slot has been closed and drained.
func (s *slot) poll() (r *PowerReading, open bool) {
	select {
	case r, ok := <-s.ch:
		return r, ok
	default:
		return nil, true
	}
}

func (s *slot) close() {
	close(s.ch)
}
