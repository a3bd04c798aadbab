// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package propagation

// =============================================================================
// Delay Buffer
// =============================================================================

// DelayBuffer is a fixed-length FIFO of in-flight pressure contributions.
//
// # Description
//
// A DelayBuffer of length n always holds exactly n values. It starts filled
// with zeros. Each call to Shift writes one new value at the tail and
// returns the value that was written n calls earlier (or zero during the
// first n calls). This gives an exact per-edge delay of n steps.
//
// The buffer is a ring indexed by position: Shift overwrites the slot it
// reads from and advances the head, so each step is O(1) with no
// allocation.
//
// # Thread Safety
//
// DelayBuffer is NOT safe for concurrent use. Every forecast run owns its
// buffers and drives them from a single goroutine.
//
// # Example
//
//	buf := NewDelayBuffer(3)
//	buf.Shift(1.0) // 0
//	buf.Shift(2.0) // 0
//	buf.Shift(3.0) // 0
//	buf.Shift(4.0) // 1.0
type DelayBuffer struct {
	slots []float64
	head  int
}

// NewDelayBuffer creates a zero-filled buffer of the given length.
//
// # Inputs
//
//   - length: Number of steps a value stays in flight. Values < 1 are
//     raised to 1; a buffer is never empty.
//
// # Outputs
//
//   - *DelayBuffer: Buffer holding length zeros.
func NewDelayBuffer(length int) *DelayBuffer {
	if length < 1 {
		length = 1
	}
	return &DelayBuffer{slots: make([]float64, length)}
}

// Shift enqueues v and dequeues the oldest in-flight value.
func (b *DelayBuffer) Shift(v float64) float64 {
	out := b.slots[b.head]
	b.slots[b.head] = v
	b.head++
	if b.head == len(b.slots) {
		b.head = 0
	}
	return out
}

// Len returns the delay length in steps.
func (b *DelayBuffer) Len() int {
	return len(b.slots)
}

// pending returns the in-flight values, oldest first, as a copy.
func (b *DelayBuffer) pending() []float64 {
	out := make([]float64, 0, len(b.slots))
	out = append(out, b.slots[b.head:]...)
	out = append(out, b.slots[:b.head]...)
	return out
}
